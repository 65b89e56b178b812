package payment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestRecordEvent(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()
	created := time.Now()
	e := &Event{
		ID:          uuid.New(),
		Provider:    ProviderStripe,
		ExternalRef: "cs_1",
		UserID:      uuid.NullUUID{UUID: userID, Valid: true},
		Status:      "paid",
		Amount:      decimal.NullDecimal{Decimal: decimal.RequireFromString("19.99"), Valid: true},
		Currency:    "EUR",
		Tokens:      1999,
		Outcome:     OutcomeCredited,
		RawPayload:  []byte(`{"id":"evt_1"}`),
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payment_events")).
		WithArgs(e.ID, "stripe", "cs_1", userID, "paid", sqlmock.AnyArg(), "EUR", int64(1999), "credited", sqlmock.AnyArg(), []byte(`{"id":"evt_1"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, repo.Record(context.Background(), e))
	assert.Equal(t, created, e.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsByUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()
	cols := []string{"id", "provider", "external_ref", "user_id", "status", "amount", "currency", "tokens", "outcome", "transaction_id", "raw_payload", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_events")).
		WithArgs(userID, 20, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.NewString(), "armenotech", "txn-1", userID.String(), "success", "25.75", "EUR", int64(2575), "credited", uuid.NewString(), []byte(`{}`), time.Now()).
			AddRow(uuid.NewString(), "stripe", "cs_2", userID.String(), "unpaid", nil, "EUR", int64(0), "ignored", nil, nil, time.Now()))

	events, err := repo.ListByUser(context.Background(), userID, 20, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Amount.Decimal.Equal(decimal.RequireFromString("25.75")))
	assert.False(t, events[1].Amount.Valid)
	assert.False(t, events[1].TransactionID.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}
