package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	defaultQueryTimeout = 3 * time.Second
	uniqueViolation     = "23505"

	selectColumns = `id, user_id, type, amount, reason, external_ref, idempotency_key, refund_of, meta, created_at`
)

// PostgresStore keeps the ledger in token_transactions and the cached
// counter in users.token_balance.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPostgresStore(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx StoreTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return persistence("begin tx", err)
	}
	defer tx.Rollback()

	// Every writer for this user queues here, so the sum read afterwards
	// includes everything committed before us.
	var cached int64
	err = tx.GetContext(ctx, &cached, `SELECT token_balance FROM users WHERE id = $1 FOR UPDATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return persistence("lock user", err)
	}

	if err := fn(&pgTx{tx: tx, userID: userID, cached: cached}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

func (s *PostgresStore) Sum(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return sumFor(ctx, s.db, userID)
}

func (s *PostgresStore) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	items := []Transaction{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+selectColumns+`
		FROM token_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, persistence("list transactions", err)
	}
	return items, nil
}

func (s *PostgresStore) FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return findOne(ctx, s.db, `WHERE external_ref = $1`, externalRef)
}

func (s *PostgresStore) UserIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids := []uuid.UUID{}
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2`, after, limit); err != nil {
		return nil, persistence("list users", err)
	}
	return ids, nil
}

type pgTx struct {
	tx     *sqlx.Tx
	userID uuid.UUID
	cached int64
}

func (t *pgTx) Sum(ctx context.Context) (int64, error) {
	return sumFor(ctx, t.tx, t.userID)
}

func (t *pgTx) CachedBalance() int64 { return t.cached }

func (t *pgTx) SetCachedBalance(ctx context.Context, balance int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE users SET token_balance = $1, updated_at = NOW() WHERE id = $2`, balance, t.userID); err != nil {
		return persistence("set cached balance", err)
	}
	t.cached = balance
	return nil
}

func (t *pgTx) FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return findOne(ctx, t.tx, `WHERE user_id = $1 AND id = $2`, t.userID, id)
}

func (t *pgTx) FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	return findOne(ctx, t.tx, `WHERE external_ref = $1`, externalRef)
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	return findOne(ctx, t.tx, `WHERE user_id = $1 AND idempotency_key = $2`, t.userID, key)
}

func (t *pgTx) FindRefundOf(ctx context.Context, spendID uuid.UUID) (*Transaction, error) {
	return findOne(ctx, t.tx, `WHERE refund_of = $1`, spendID)
}

func (t *pgTx) Append(ctx context.Context, e *Transaction) error {
	if e.UserID != t.userID {
		return ErrInvalidEntry
	}

	err := t.tx.GetContext(ctx, &e.CreatedAt, `
		INSERT INTO token_transactions
			(id, user_id, type, amount, reason, external_ref, idempotency_key, refund_of, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, e.ID, e.UserID, string(e.Type), e.Amount, e.Reason, e.ExternalRef, e.IdempotencyKey, e.RefundOf, e.Meta)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return persistence("insert transaction", err)
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE users SET token_balance = token_balance + $1, updated_at = NOW() WHERE id = $2`,
		e.Amount, t.userID); err != nil {
		return persistence("update cached balance", err)
	}
	t.cached += e.Amount
	return nil
}

func sumFor(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID) (int64, error) {
	var sum int64
	if err := sqlx.GetContext(ctx, q, &sum,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM token_transactions WHERE user_id = $1`, userID); err != nil {
		return 0, persistence("sum transactions", err)
	}
	return sum, nil
}

func findOne(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) (*Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, q, &t, `SELECT `+selectColumns+` FROM token_transactions `+where+` LIMIT 1`, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("find transaction", err)
	}
	return &t, nil
}
