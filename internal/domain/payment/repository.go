package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository stores received payment notifications.
type Repository interface {
	Record(ctx context.Context, e *Event) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Event, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment event repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Record(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO payment_events (id, provider, external_ref, user_id, status, amount, currency, tokens, outcome, transaction_id, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	var raw interface{}
	if len(e.RawPayload) > 0 {
		raw = []byte(e.RawPayload)
	}
	return r.db.QueryRowxContext(ctx, query,
		e.ID,
		e.Provider,
		e.ExternalRef,
		e.UserID,
		e.Status,
		e.Amount,
		e.Currency,
		e.Tokens,
		e.Outcome,
		e.TransactionID,
		raw,
	).Scan(&e.CreatedAt)
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, provider, external_ref, user_id, status, amount, currency, tokens, outcome, transaction_id, raw_payload, created_at
		FROM payment_events
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	events := []*Event{}
	err := r.db.SelectContext(ctx, &events, query, userID, limit, offset)
	return events, err
}
