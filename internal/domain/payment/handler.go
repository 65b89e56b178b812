package payment

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
	"github.com/aifitworld/aifitworld-api/internal/middleware"
	"github.com/aifitworld/aifitworld-api/internal/pkg/errorhandler"
	"github.com/aifitworld/aifitworld-api/internal/pkg/response"
	"github.com/aifitworld/aifitworld-api/internal/pkg/stripe"
	"github.com/aifitworld/aifitworld-api/internal/pkg/validator"
)

// maxWebhookBody bounds provider payloads; signatures cover the raw bytes.
const maxWebhookBody = 512 << 10

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// StripeWebhook handles POST /webhooks/stripe
// @Summary Stripe webhook
// @Description Credits tokens for paid checkout sessions. Signed with Stripe-Signature.
// @Tags Payment Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /webhooks/stripe [post]
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Unable to read body")
		return
	}

	result, err := h.service.HandleStripeWebhook(r.Context(), payload, r.Header.Get(stripe.SignatureHeader))
	if err != nil {
		h.writeWebhookError(w, r, err)
		return
	}
	response.OK(w, result)
}

// ArmenotechCallback handles POST /webhooks/armenotech
// @Summary Armenotech callback
// @Description Credits tokens for successful transactions. Signed with md5_body_sig.
// @Tags Payment Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.Response
// @Router /webhooks/armenotech [post]
func (h *Handler) ArmenotechCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Unable to read body")
		return
	}

	result, err := h.service.HandleArmenotechCallback(r.Context(), body)
	if err != nil {
		h.writeWebhookError(w, r, err)
		return
	}
	response.OK(w, result)
}

// ConfirmRedirect handles POST /payments/success
// @Summary Confirm a payment from the success page
// @Tags Payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RedirectConfirmation true "Payment data"
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /payments/success [post]
func (h *Handler) ConfirmRedirect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req RedirectConfirmation
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.service.ConfirmRedirect(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			errorhandler.HandleError(r.Context(), w, http.StatusNotFound, "PAYMENT_NOT_FOUND", err.Error(), err)
		case errors.Is(err, ErrProviderUnavailable):
			errorhandler.HandleError(r.Context(), w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", err.Error(), err)
		case errors.Is(err, ErrUnresolvedTokens), errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrMissingReference):
			errorhandler.HandleError(r.Context(), w, http.StatusBadRequest, "UNRESOLVED_TOKENS", err.Error(), err)
		default:
			ledger.WriteError(w, r, err)
		}
		return
	}
	response.OK(w, result)
}

// GetHistory handles GET /payments
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	events, err := h.service.History(r.Context(), userID, limit, offset)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	response.OK(w, events)
}

// ListPackages handles GET /payments/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	response.OK(w, pricing.Packages())
}

func (h *Handler) writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ErrInvalidSignature):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "INVALID_SIGNATURE", "Signature verification failed", err)
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrMissingReference):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), err)
	case errors.Is(err, ErrNotConfigured):
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "PROVIDER_NOT_CONFIGURED", err.Error(), err)
	default:
		ledger.WriteError(w, r, err)
	}
}

// Routes returns payment router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/packages", h.ListPackages)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.GetHistory)
		r.Post("/success", h.ConfirmRedirect)
	})

	return r
}

// WebhookRoutes returns webhook router (no auth, but signature verification)
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.StripeWebhook)
	r.Post("/armenotech", h.ArmenotechCallback)
	return r
}
