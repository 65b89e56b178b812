package course

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const courseColumns = `id, user_id, title, options, content, nutrition, tokens_spent, paid_pdf, pdf_mode, pdf_url, created_at, updated_at`

// Repository defines course data access. Writes that complete a paid
// action store the action in the same transaction.
type Repository interface {
	InsertPreview(ctx context.Context, p *Preview, a *Action) error
	GetPreview(ctx context.Context, userID, id uuid.UUID) (*Preview, error)
	InsertCourse(ctx context.Context, c *Course, a *Action) error
	UpdateCourse(ctx context.Context, c *Course, a *Action) error
	GetCourse(ctx context.Context, userID, id uuid.UUID) (*Course, error)
	ListCourses(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Course, error)
	FindAction(ctx context.Context, spendID uuid.UUID) (*Action, error)
	// LeaseAction gives the caller the right to generate for spendID until
	// until. It returns false while another attempt holds a live lease.
	LeaseAction(ctx context.Context, spendID, userID uuid.UUID, now, until time.Time) (bool, error)
	ReleaseAction(ctx context.Context, spendID uuid.UUID) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates course repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertPreview(ctx context.Context, p *Preview, a *Action) error {
	return r.inTx(ctx, a, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO course_previews (id, user_id, title, options, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, p.UserID, p.Title, p.Options, p.Content, p.CreatedAt)
		return err
	})
}

func (r *repository) GetPreview(ctx context.Context, userID, id uuid.UUID) (*Preview, error) {
	var p Preview
	err := r.db.GetContext(ctx, &p, `
		SELECT id, user_id, title, options, content, created_at
		FROM course_previews
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) InsertCourse(ctx context.Context, c *Course, a *Action) error {
	return r.inTx(ctx, a, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO courses (`+courseColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			c.ID,
			c.UserID,
			c.Title,
			c.Options,
			c.Content,
			c.Nutrition,
			c.TokensSpent,
			c.PaidPDF,
			c.PDFMode,
			c.PDFURL,
			c.CreatedAt,
			c.UpdatedAt,
		)
		return err
	})
}

func (r *repository) UpdateCourse(ctx context.Context, c *Course, a *Action) error {
	return r.inTx(ctx, a, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE courses
			SET content = $1, nutrition = $2, tokens_spent = $3, pdf_mode = $4, pdf_url = $5, updated_at = $6
			WHERE id = $7 AND user_id = $8
		`, c.Content, c.Nutrition, c.TokensSpent, c.PDFMode, c.PDFURL, c.UpdatedAt, c.ID, c.UserID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrCourseNotFound
		}
		return nil
	})
}

func (r *repository) GetCourse(ctx context.Context, userID, id uuid.UUID) (*Course, error) {
	var c Course
	err := r.db.GetContext(ctx, &c, `SELECT `+courseColumns+` FROM courses WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) ListCourses(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Course, error) {
	courses := []*Course{}
	err := r.db.SelectContext(ctx, &courses, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return courses, err
}

func (r *repository) FindAction(ctx context.Context, spendID uuid.UUID) (*Action, error) {
	var a Action
	err := r.db.GetContext(ctx, &a, `
		SELECT spend_id, user_id, reason, course_id, preview_id, created_at
		FROM course_actions
		WHERE spend_id = $1
	`, spendID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) LeaseAction(ctx context.Context, spendID, userID uuid.UUID, now, until time.Time) (bool, error) {
	var leased uuid.UUID
	err := r.db.GetContext(ctx, &leased, `
		INSERT INTO course_action_leases (spend_id, user_id, leased_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (spend_id) DO UPDATE SET leased_until = EXCLUDED.leased_until
		WHERE course_action_leases.leased_until < $4
		RETURNING spend_id
	`, spendID, userID, until, now)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) ReleaseAction(ctx context.Context, spendID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM course_action_leases WHERE spend_id = $1`, spendID)
	return err
}

// inTx runs fn and, when a is set, records the action and drops its lease
// before commit.
func (r *repository) inTx(ctx context.Context, a *Action, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if a != nil {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO course_actions (spend_id, user_id, reason, course_id, preview_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (spend_id) DO NOTHING
		`, a.SpendID, a.UserID, a.Reason, a.CourseID, a.PreviewID, a.CreatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM course_action_leases WHERE spend_id = $1`, a.SpendID); err != nil {
			return err
		}
	}

	return tx.Commit()
}
