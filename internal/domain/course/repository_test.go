package course

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
)

var courseCols = []string{"id", "user_id", "title", "options", "content", "nutrition", "tokens_spent", "paid_pdf", "pdf_mode", "pdf_url", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestInsertCourseRecordsActionInSameTx(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	c := &Course{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Title:       "4-Week Fitness Program",
		Options:     StoredOptions{pricing.Normalize(pricing.Options{})},
		Content:     samplePlan,
		TokensSpent: 1310,
		PaidPDF:     pricing.PDFNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	a := &Action{SpendID: uuid.New(), UserID: c.UserID, Reason: ledger.ReasonPublish, CourseID: &c.ID}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO courses")).
		WithArgs(c.ID, c.UserID, c.Title, sqlmock.AnyArg(), samplePlan, "", int64(1310), "none", "", "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_actions")).
		WithArgs(a.SpendID, c.UserID, "publish", c.ID, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_action_leases")).
		WithArgs(a.SpendID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertCourse(context.Background(), c, a))
	assert.False(t, a.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingCourseRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	c := &Course{ID: uuid.New(), UserID: uuid.New(), UpdatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.UpdateCourse(context.Background(), c, &Action{SpendID: uuid.New(), UserID: c.UserID, Reason: ledger.ReasonRegenDay})
	assert.ErrorIs(t, err, ErrCourseNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCourseWithoutAction(t *testing.T) {
	repo, mock := newMockRepo(t)
	c := &Course{ID: uuid.New(), UserID: uuid.New(), PDFMode: "text", PDFURL: "http://files.test/a.pdf", UpdatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses")).
		WithArgs("", "", int64(0), "text", "http://files.test/a.pdf", c.UpdatedAt, c.ID, c.UserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateCourse(context.Background(), c, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCourseDecodesOptions(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, id := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1 AND user_id = $2")).
		WithArgs(id, userID).
		WillReturnRows(sqlmock.NewRows(courseCols).AddRow(
			id.String(), userID.String(), "Six weeks", []byte(`{"weeks":6,"sessions_per_week":3,"pdf":"illustrated","images":4}`),
			samplePlan, "", int64(2000), "illustrated", "", "", now, now))

	c, err := repo.GetCourse(context.Background(), userID, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 6, c.Options.Weeks)
	assert.Equal(t, 4, c.Options.Images)
	assert.Equal(t, pricing.PDFIllustrated, c.PaidPDF)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1 AND user_id = $2")).
		WithArgs(id, userID).
		WillReturnRows(sqlmock.NewRows(courseCols))
	c, err = repo.GetCourse(context.Background(), userID, id)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAction(t *testing.T) {
	repo, mock := newMockRepo(t)
	spendID, userID, previewID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM course_actions")).
		WithArgs(spendID).
		WillReturnRows(sqlmock.NewRows([]string{"spend_id", "user_id", "reason", "course_id", "preview_id", "created_at"}).
			AddRow(spendID.String(), userID.String(), "preview", nil, previewID.String(), time.Now()))

	a, err := repo.FindAction(context.Background(), spendID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, ledger.ReasonPreview, a.Reason)
	assert.Nil(t, a.CourseID)
	require.NotNil(t, a.PreviewID)
	assert.Equal(t, previewID, *a.PreviewID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseAction(t *testing.T) {
	repo, mock := newMockRepo(t)
	spendID, userID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	until := now.Add(5 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO course_action_leases")).
		WithArgs(spendID, userID, until, now).
		WillReturnRows(sqlmock.NewRows([]string{"spend_id"}).AddRow(spendID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO course_action_leases")).
		WithArgs(spendID, userID, until, now).
		WillReturnRows(sqlmock.NewRows([]string{"spend_id"}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_action_leases")).
		WithArgs(spendID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.LeaseAction(context.Background(), spendID, userID, now, until)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.LeaseAction(context.Background(), spendID, userID, now, until)
	require.NoError(t, err)
	assert.False(t, ok, "a live lease is not taken over")

	require.NoError(t, repo.ReleaseAction(context.Background(), spendID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
