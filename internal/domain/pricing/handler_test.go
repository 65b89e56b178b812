package pricing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteEndpoint(t *testing.T) {
	router := NewHandler().Routes()

	body, _ := json.Marshal(map[string]interface{}{"weeks": 4, "sessions_per_week": 4, "pdf": "text"})
	req := httptest.NewRequest(http.MethodPost, "/quote", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Total   int64            `json:"total"`
			Actions map[string]int64 `json:"actions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1388), resp.Data.Total)
	assert.Equal(t, int64(1388), resp.Data.Actions["publish"])
	assert.Equal(t, int64(78), resp.Data.Actions["pdf_export"])
}

func TestQuoteEndpointRejectsOutOfRange(t *testing.T) {
	router := NewHandler().Routes()

	req := httptest.NewRequest(http.MethodPost, "/quote", bytes.NewReader([]byte(`{"weeks":20}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/quote", bytes.NewReader([]byte(`{"weeks":`)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPackagesEndpoint(t *testing.T) {
	router := NewHandler().Routes()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/packages", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []Package `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 4)
	assert.Equal(t, "starter", resp.Data[0].ID)
	assert.True(t, resp.Data[0].Price.Equal(decimalFromString(t, "9.99")))
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
