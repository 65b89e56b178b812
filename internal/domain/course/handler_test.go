package course

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
	"github.com/aifitworld/aifitworld-api/internal/middleware"
	"github.com/aifitworld/aifitworld-api/internal/pkg/response"
)

type apiResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

func newCourseAPI(t *testing.T, cfg Config) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t, cfg)
	asUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), f.userID)))
		})
	}
	r := chi.NewRouter()
	r.Mount("/courses", NewHandler(f.svc).Routes(asUser))
	return f, r
}

func call(t *testing.T, h http.Handler, method, path, key string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(ledger.IdempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestPreviewEndpoint(t *testing.T) {
	f, api := newCourseAPI(t, Config{})
	f.topUp(t, 200)

	w, resp := call(t, api, http.MethodPost, "/courses/preview", "", map[string]interface{}{"options": map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", resp.Error.Code)

	w, resp = call(t, api, http.MethodPost, "/courses/preview", "p-1", map[string]interface{}{"options": map[string]interface{}{"weeks": 2}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, resp.Error.Details, "weeks")

	w, resp = call(t, api, http.MethodPost, "/courses/preview", "p-1", map[string]interface{}{"options": map[string]interface{}{"weeks": 6}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result PreviewResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.EqualValues(t, pricing.PreviewTokens, result.Charge.Tokens)
	assert.Equal(t, 6, result.Preview.Options.Weeks)

	w, _ = call(t, api, http.MethodGet, "/courses/previews/"+result.Preview.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublishEndpointErrors(t *testing.T) {
	t.Run("insufficient balance", func(t *testing.T) {
		f, api := newCourseAPI(t, Config{})
		f.topUp(t, 10)

		w, resp := call(t, api, http.MethodPost, "/courses", "c-1", map[string]interface{}{"options": map[string]interface{}{}})
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Error.Code)
		assert.EqualValues(t, 1310, resp.Error.Details["required"])
		assert.EqualValues(t, 10, resp.Error.Details["available"])
	})

	t.Run("generation failure reports refund", func(t *testing.T) {
		f, api := newCourseAPI(t, Config{RefundOnFailure: true})
		f.topUp(t, 2000)
		f.gen.err = errors.New("upstream 500")

		w, resp := call(t, api, http.MethodPost, "/courses", "c-1", map[string]interface{}{"options": map[string]interface{}{}})
		require.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "GENERATION_FAILED", resp.Error.Code)
		assert.Equal(t, true, resp.Error.Details["refunded"])
		assert.EqualValues(t, 2000, f.balance(t))

		f.gen.err = nil
		w, resp = call(t, api, http.MethodPost, "/courses", "c-1", map[string]interface{}{"options": map[string]interface{}{}})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "SPEND_REFUNDED", resp.Error.Code)
	})

	t.Run("replay during generation", func(t *testing.T) {
		f, api := newCourseAPI(t, Config{})
		f.topUp(t, 200)
		f.gen.entered = make(chan struct{}, 1)
		f.gen.release = make(chan struct{})
		body := map[string]interface{}{"options": map[string]interface{}{}}

		first := make(chan int, 1)
		go func() {
			w, _ := call(t, api, http.MethodPost, "/courses/preview", "p-1", body)
			first <- w.Code
		}()
		<-f.gen.entered

		w, resp := call(t, api, http.MethodPost, "/courses/preview", "p-1", body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "ACTION_IN_PROGRESS", resp.Error.Code)

		close(f.gen.release)
		assert.Equal(t, http.StatusCreated, <-first)
	})
}

func TestCourseEndpoints(t *testing.T) {
	f, api := newCourseAPI(t, Config{})
	f.topUp(t, 500)
	c := f.seedCourse(t, pricing.Options{})

	w, _ := call(t, api, http.MethodGet, "/courses/"+c.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = call(t, api, http.MethodGet, "/courses/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = call(t, api, http.MethodGet, "/courses/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := call(t, api, http.MethodPost, "/courses/"+c.ID.String()+"/regenerate-day", "d-1", map[string]interface{}{"week": 9, "day": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	w, resp = call(t, api, http.MethodPost, "/courses/"+c.ID.String()+"/regenerate-day", "d-1", map[string]interface{}{"week": 1, "day": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result CourseResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Contains(t, result.Course.Content, "Fresh Pull")

	w, resp = call(t, api, http.MethodPost, "/courses/"+c.ID.String()+"/pdf", "", map[string]interface{}{"mode": "none"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, resp = call(t, api, http.MethodGet, "/courses?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []Course
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)
}
