package ledger

import (
	"errors"
	"net/http"

	"github.com/aifitworld/aifitworld-api/internal/pkg/errorhandler"
)

// WriteError translates a ledger error into the API envelope. Other
// packages that call the ledger use it so clients see the same codes
// everywhere.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var insufficient *InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		errorhandler.HandleErrorWithDetails(ctx, w, http.StatusPaymentRequired,
			"INSUFFICIENT_BALANCE", "Not enough tokens for this action",
			map[string]interface{}{
				"required":  insufficient.Required,
				"available": insufficient.Available,
			}, err)
	case errors.Is(err, ErrInvalidAmount):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), err)
	case errors.Is(err, ErrMissingIdempotencyKey):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required", err)
	case errors.Is(err, ErrMissingExternalRef):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "MISSING_EXTERNAL_REF", err.Error(), err)
	case errors.Is(err, ErrInvalidReason):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "INVALID_REASON", err.Error(), err)
	case errors.Is(err, ErrUserNotFound):
		errorhandler.HandleError(ctx, w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", err)
	case errors.Is(err, ErrTransactionNotFound):
		errorhandler.HandleError(ctx, w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "Transaction not found", err)
	case errors.Is(err, ErrIdempotencyConflict):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "IDEMPOTENCY_CONFLICT", err.Error(), err)
	case errors.Is(err, ErrExternalRefConflict):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "EXTERNAL_REF_CONFLICT", err.Error(), err)
	case errors.Is(err, ErrNotRefundable):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "NOT_REFUNDABLE", err.Error(), err)
	case errors.Is(err, ErrPersistence):
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "PERSISTENCE_ERROR", "Ledger is temporarily unavailable, retry later", err)
	default:
		errorhandler.Internal(ctx, w, err)
	}
}
