package course

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
	"github.com/aifitworld/aifitworld-api/internal/middleware"
	"github.com/aifitworld/aifitworld-api/internal/pkg/errorhandler"
	"github.com/aifitworld/aifitworld-api/internal/pkg/response"
	"github.com/aifitworld/aifitworld-api/internal/pkg/validator"
)

// Handler handles course HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates course handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type previewRequest struct {
	Options pricing.Options `json:"options"`
}

// Preview handles POST /courses/preview
// @Summary Generate a preview
// @Description Charges the preview price and returns week 1 of the program. Requires Idempotency-Key.
// @Tags Courses
// @Accept json
// @Produce json
// @Success 201 {object} response.Response{data=PreviewResult}
// @Failure 402 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /courses/preview [post]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	userID, key, ok := paidRequest(w, r)
	if !ok {
		return
	}

	var req previewRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := pricing.Validate(req.Options); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.service.Preview(r.Context(), userID, key, req.Options)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, result)
}

// GetPreview handles GET /courses/previews/{id}
func (h *Handler) GetPreview(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid preview ID")
		return
	}

	p, err := h.service.GetPreview(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, p)
}

// Publish handles POST /courses
// @Summary Publish a course
// @Description Charges the quoted price and generates the full program. Requires Idempotency-Key.
// @Tags Courses
// @Accept json
// @Produce json
// @Success 201 {object} response.Response{data=CourseResult}
// @Failure 402 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /courses [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, key, ok := paidRequest(w, r)
	if !ok {
		return
	}

	var req PublishRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if req.PreviewID == nil {
		if errs := pricing.Validate(req.Options); errs != nil {
			response.ValidationError(w, errs)
			return
		}
	}

	result, err := h.service.Publish(r.Context(), userID, key, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, result)
}

// List handles GET /courses
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

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

	courses, hasNext, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.WithMeta(w, courses, response.Meta{
		Limit:   limit,
		Offset:  offset,
		Count:   len(courses),
		HasNext: hasNext,
	})
}

// Get handles GET /courses/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := courseID(w, r)
	if !ok {
		return
	}

	c, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, c)
}

// RegenerateDay handles POST /courses/{id}/regenerate-day
func (h *Handler) RegenerateDay(w http.ResponseWriter, r *http.Request) {
	userID, key, ok := paidRequest(w, r)
	if !ok {
		return
	}
	id, ok := courseID(w, r)
	if !ok {
		return
	}

	var req RegenerateDayRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.RegenerateDay(r.Context(), userID, id, key, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, result)
}

// RegenerateWeek handles POST /courses/{id}/regenerate-week
func (h *Handler) RegenerateWeek(w http.ResponseWriter, r *http.Request) {
	userID, key, ok := paidRequest(w, r)
	if !ok {
		return
	}
	id, ok := courseID(w, r)
	if !ok {
		return
	}

	var req RegenerateWeekRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.RegenerateWeek(r.Context(), userID, id, key, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, result)
}

// ExportPDF handles POST /courses/{id}/pdf
// @Summary Export a course as PDF
// @Description Free for the mode paid at publish; other modes are charged and need Idempotency-Key.
// @Tags Courses
// @Accept json
// @Produce json
// @Success 200 {object} response.Response{data=CourseResult}
// @Router /courses/{id}/pdf [post]
func (h *Handler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := courseID(w, r)
	if !ok {
		return
	}

	var req ExportRequest
	if !decode(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(ledger.IdempotencyHeader))
	result, err := h.service.ExportPDF(r.Context(), userID, id, key, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, result)
}

// Routes returns the /courses router.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/", h.List)
	r.Post("/", h.Publish)
	r.Post("/preview", h.Preview)
	r.Get("/previews/{id}", h.GetPreview)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/regenerate-day", h.RegenerateDay)
	r.Post("/{id}/regenerate-week", h.RegenerateWeek)
	r.Post("/{id}/pdf", h.ExportPDF)
	return r
}

func paidRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, "", false
	}
	key := strings.TrimSpace(r.Header.Get(ledger.IdempotencyHeader))
	if key == "" {
		ledger.WriteError(w, r, ledger.ErrMissingIdempotencyKey)
		return uuid.Nil, "", false
	}
	return userID, key, true
}

func courseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid course ID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := response.DecodeJSON(r.Body, v); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(v); errs != nil {
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var gen *GenerationError
	switch {
	case errors.As(err, &gen):
		errorhandler.HandleErrorWithDetails(ctx, w, http.StatusBadGateway,
			"GENERATION_FAILED", "Content generation failed, please try again",
			map[string]interface{}{"refunded": gen.Refunded}, err)
	case errors.Is(err, ErrCourseNotFound):
		response.NotFound(w, "Course not found")
	case errors.Is(err, ErrPreviewNotFound):
		response.NotFound(w, "Preview not found")
	case errors.Is(err, ErrInvalidSection):
		response.ValidationError(w, map[string]string{"week": err.Error()})
	case errors.Is(err, ErrNothingToExport):
		response.ValidationError(w, map[string]string{"mode": err.Error()})
	case errors.Is(err, ErrSpendRefunded):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "SPEND_REFUNDED", err.Error(), err)
	case errors.Is(err, ErrActionInProgress):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "ACTION_IN_PROGRESS", err.Error(), err)
	default:
		ledger.WriteError(w, r, err)
	}
}
