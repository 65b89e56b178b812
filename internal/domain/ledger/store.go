package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Store persists ledger entries. Implementations must make WithUserLock
// serialize callers per user and apply every Append of one call atomically.
type Store interface {
	// WithUserLock runs fn in one atomic unit holding the user's lock.
	// Returns ErrUserNotFound when the user does not exist.
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx StoreTx) error) error

	Sum(ctx context.Context, userID uuid.UUID) (int64, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
	FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error)
	// UserIDs pages through user ids in ascending order after the given id.
	UserIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// StoreTx is the view of one user's ledger inside WithUserLock.
type StoreTx interface {
	Sum(ctx context.Context) (int64, error)
	// CachedBalance is users.token_balance as read when the lock was taken.
	CachedBalance() int64
	SetCachedBalance(ctx context.Context, balance int64) error

	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	FindRefundOf(ctx context.Context, spendID uuid.UUID) (*Transaction, error)

	// Append inserts t and moves the cached counter by t.Amount.
	Append(ctx context.Context, t *Transaction) error
}
