package course

import (
	"errors"
	"fmt"
)

var (
	ErrCourseNotFound   = errors.New("course not found")
	ErrPreviewNotFound  = errors.New("preview not found")
	ErrInvalidSection   = errors.New("week or day is outside the program")
	ErrSpendRefunded    = errors.New("the spend for this idempotency key was refunded; use a new key")
	ErrNothingToExport  = errors.New("pdf mode must be text or illustrated")
	ErrGenerationFailed = errors.New("content generation failed")
	ErrActionInProgress = errors.New("an earlier request with this idempotency key is still running")
)

// GenerationError reports a failed generation after tokens were debited.
// Refunded tells the client whether the debit was reversed.
type GenerationError struct {
	Op       string
	Refunded bool
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}
