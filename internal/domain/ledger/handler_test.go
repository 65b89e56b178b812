package ledger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/ledger/ledgertest"
	"github.com/aifitworld/aifitworld-api/internal/middleware"
	"github.com/aifitworld/aifitworld-api/internal/pkg/jwt"
	"github.com/aifitworld/aifitworld-api/internal/pkg/retry"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
	Meta *struct {
		Limit   int  `json:"limit"`
		Offset  int  `json:"offset"`
		Count   int  `json:"count"`
		HasNext bool `json:"has_next"`
	} `json:"meta"`
}

type tokensAPI struct {
	router http.Handler
	svc    *ledger.Service
	store  *ledgertest.Store
	userID uuid.UUID
	token  string
}

func newTokensAPI(t *testing.T) *tokensAPI {
	t.Helper()
	store := ledgertest.NewStore()
	svc := ledger.NewService(store, ledger.WithRetryPolicy(retry.Policy{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}))
	userID := store.AddUser()

	jwtSvc := jwt.NewService("ledger-handler-secret", time.Hour)
	token, _, err := jwtSvc.GenerateAccessToken(userID, "athlete@example.com")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/api/v1/tokens", ledger.NewHandler(svc).Routes(middleware.Auth(jwtSvc)))

	return &tokensAPI{router: r, svc: svc, store: store, userID: userID, token: token}
}

func (a *tokensAPI) do(t *testing.T, method, path, idemKey string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(ledger.IdempotencyHeader, idemKey)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func (a *tokensAPI) credit(t *testing.T, amount int64, ref string) {
	t.Helper()
	_, err := a.svc.IssueCredit(context.Background(), a.userID, amount, ref, ledger.TopupMeta{Provider: "test"})
	require.NoError(t, err)
}

func TestBalanceEndpoint(t *testing.T) {
	api := newTokensAPI(t)

	w, resp := api.do(t, http.MethodGet, "/api/v1/tokens/balance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":0}`, string(resp.Data))

	api.credit(t, 1000, "ref-1")
	w, resp = api.do(t, http.MethodGet, "/api/v1/tokens/balance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":1000}`, string(resp.Data))
}

func TestBalanceRequiresAuth(t *testing.T) {
	api := newTokensAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tokens/balance", nil)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSpendEndpoint(t *testing.T) {
	api := newTokensAPI(t)
	api.credit(t, 1000, "ref-1")

	body := map[string]interface{}{"tokens": 400, "reason": "preview"}

	w, resp := api.do(t, http.MethodPost, "/api/v1/tokens/spend", "spend-1", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result ledger.SpendResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.Authorized)
	assert.Equal(t, int64(600), result.NewBalance)
	assert.False(t, result.Replayed)

	t.Run("retry with same key does not debit twice", func(t *testing.T) {
		w, resp := api.do(t, http.MethodPost, "/api/v1/tokens/spend", "spend-1", body)
		require.Equal(t, http.StatusOK, w.Code)
		var replay ledger.SpendResult
		require.NoError(t, json.Unmarshal(resp.Data, &replay))
		assert.True(t, replay.Replayed)
		assert.Equal(t, result.TransactionID, replay.TransactionID)
		assert.Equal(t, int64(600), replay.NewBalance)
	})

	t.Run("same key different amount", func(t *testing.T) {
		w, resp := api.do(t, http.MethodPost, "/api/v1/tokens/spend", "spend-1",
			map[string]interface{}{"tokens": 50, "reason": "preview"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "IDEMPOTENCY_CONFLICT", resp.Error.Code)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		w, resp := api.do(t, http.MethodPost, "/api/v1/tokens/spend", "spend-2",
			map[string]interface{}{"tokens": 700, "reason": "publish"})
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Error.Code)
		assert.EqualValues(t, 700, resp.Error.Details["required"])
		assert.EqualValues(t, 600, resp.Error.Details["available"])
	})

	assert.Equal(t, 2, api.store.Count(api.userID))
}

func TestSpendValidation(t *testing.T) {
	api := newTokensAPI(t)
	api.credit(t, 100, "ref-1")

	w, resp := api.do(t, http.MethodPost, "/api/v1/tokens/spend", "", map[string]interface{}{"tokens": 10, "reason": "preview"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", resp.Error.Code)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"zero tokens", map[string]interface{}{"tokens": 0, "reason": "preview"}, "tokens"},
		{"negative tokens", map[string]interface{}{"tokens": -5, "reason": "preview"}, "tokens"},
		{"unknown reason", map[string]interface{}{"tokens": 10, "reason": "lottery"}, "reason"},
		{"missing reason", map[string]interface{}{"tokens": 10}, "reason"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := api.do(t, http.MethodPost, "/api/v1/tokens/spend", fmt.Sprintf("k-%d", i), tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Contains(t, resp.Error.Details, tt.field)
		})
	}

	assert.Equal(t, 1, api.store.Count(api.userID))
}

func TestHistoryEndpoint(t *testing.T) {
	api := newTokensAPI(t)
	for i := 0; i < 5; i++ {
		api.credit(t, int64(10*(i+1)), fmt.Sprintf("ref-%d", i))
	}

	w, resp := api.do(t, http.MethodGet, "/api/v1/tokens/history?limit=2&offset=0", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []ledger.Transaction
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, int64(50), items[0].Amount)
	assert.Equal(t, int64(40), items[1].Amount)
	require.NotNil(t, resp.Meta)
	assert.True(t, resp.Meta.HasNext)

	w, resp = api.do(t, http.MethodGet, "/api/v1/tokens/history?limit=2&offset=4", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	require.Len(t, items, 1)
	assert.False(t, resp.Meta.HasNext)

	for _, q := range []string{"limit=0", "limit=101", "limit=abc", "offset=-1"} {
		w, _ := api.do(t, http.MethodGet, "/api/v1/tokens/history?"+q, "", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, q)
	}
}

func TestHistoryEmptyIsArray(t *testing.T) {
	api := newTokensAPI(t)
	w, resp := api.do(t, http.MethodGet, "/api/v1/tokens/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestPersistenceFailureIs503(t *testing.T) {
	api := newTokensAPI(t)
	boom := fmt.Errorf("%w: connection reset", ledger.ErrPersistence)
	api.store.FailNext(boom, boom)

	w, resp := api.do(t, http.MethodGet, "/api/v1/tokens/balance", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "PERSISTENCE_ERROR", resp.Error.Code)
}
