package pricing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aifitworld/aifitworld-api/internal/pkg/response"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

type quoteResponse struct {
	Quote
	Actions map[string]int64 `json:"actions"`
}

// Quote handles POST /pricing/quote
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var opts Options
	if err := response.DecodeJSON(r.Body, &opts); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := Validate(opts); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	q := Breakdown(opts)
	response.OK(w, quoteResponse{
		Quote: q,
		Actions: map[string]int64{
			"preview":    PreviewTokens,
			"publish":    q.Total,
			"regen_day":  RegenDayTokens,
			"regen_week": RegenWeekTokens,
			"pdf_export": PDFCost(q.Options.PDF, q.Options.Images),
		},
	})
}

// ListPackages handles GET /packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	response.OK(w, Packages())
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/quote", h.Quote)
	r.Get("/packages", h.ListPackages)
	return r
}
