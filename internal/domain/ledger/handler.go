package ledger

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aifitworld/aifitworld-api/internal/middleware"
	"github.com/aifitworld/aifitworld-api/internal/pkg/response"
	"github.com/aifitworld/aifitworld-api/internal/pkg/validator"
)

// IdempotencyHeader carries the client key for paid actions.
const IdempotencyHeader = "Idempotency-Key"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type spendRequest struct {
	Tokens int64  `json:"tokens" validate:"gt=0"`
	Reason string `json:"reason" validate:"required,spend_reason"`
	Note   string `json:"note" validate:"max=500"`
}

// Balance handles GET /tokens/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	response.OK(w, map[string]interface{}{"balance": balance})
}

// History handles GET /tokens/history?limit=&offset=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, offset, errs := parsePaging(r)
	if len(errs) > 0 {
		response.ValidationError(w, errs)
		return
	}

	page, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	items := page.Items
	if items == nil {
		items = []Transaction{}
	}
	response.WithMeta(w, items, response.Meta{
		Limit:   page.Limit,
		Offset:  page.Offset,
		Count:   len(items),
		HasNext: page.HasNext,
	})
}

// Spend handles POST /tokens/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		WriteError(w, r, ErrMissingIdempotencyKey)
		return
	}

	var req spendRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.svc.AuthorizeSpend(r.Context(), userID, req.Tokens, SpendMeta{
		Reason:         Reason(req.Reason),
		IdempotencyKey: key,
		Note:           req.Note,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	response.OK(w, result)
}

func parsePaging(r *http.Request) (limit, offset int, errs map[string]string) {
	errs = map[string]string{}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			errs["limit"] = "Must be an integer"
		case n < 1 || n > MaxHistoryLimit:
			errs["limit"] = "Must be between 1 and " + strconv.Itoa(MaxHistoryLimit)
		default:
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			errs["offset"] = "Must be an integer"
		case n < 0:
			errs["offset"] = "Must be at least 0"
		default:
			offset = n
		}
	}
	return limit, offset, errs
}

// Routes returns the /tokens router.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/balance", h.Balance)
	r.Get("/history", h.History)
	r.Post("/spend", h.Spend)
	return r
}
