package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount         = errors.New("amount must be a positive integer")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrUserNotFound          = errors.New("user not found")
	ErrPersistence           = errors.New("ledger store unavailable")
	ErrMissingExternalRef    = errors.New("external payment reference is required")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrInvalidReason         = errors.New("unknown spend reason")
	ErrIdempotencyConflict   = errors.New("idempotency key already used for a different spend")
	ErrExternalRefConflict   = errors.New("external payment reference belongs to another user")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrNotRefundable         = errors.New("only spends can be refunded")
	ErrInvalidEntry          = errors.New("ledger entry metadata does not match its type")

	// ErrDuplicate is returned by stores when a unique index rejects an append.
	ErrDuplicate = errors.New("duplicate ledger entry")
)

// InsufficientBalanceError carries the numbers shown to the client.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
