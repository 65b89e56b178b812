package armenotech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotConfigured       = errors.New("armenotech: api credentials are empty")
	ErrTransactionNotFound = errors.New("armenotech: transaction not found")
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("armenotech http error: status=%d body=%s", e.Status, e.Body)
}

// Transaction is the gateway's own record of a payment.
type Transaction struct {
	GUID     string      `json:"id"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	UserID   string      `json:"user_id"`
	Tokens   json.Number `json:"tokens,omitempty"`
	PlanName string      `json:"plan_name,omitempty"`
}

func (t *Transaction) Succeeded() bool { return succeeded(t.Status) }

type ClientConfig struct {
	BaseURL      string
	MerchantGUID string
	AppToken     string
	AppSecret    string
	Timeout      time.Duration
}

// Client reads transactions from the merchant API.
type Client struct {
	baseURL  string
	merchant string
	token    string
	secret   string
	http     *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		merchant: cfg.MerchantGUID,
		token:    cfg.AppToken,
		secret:   cfg.AppSecret,
		http:     &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client can reach the merchant API.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.merchant != "" && c.token != "" && c.secret != ""
}

// Transaction fetches one transaction by guid.
func (c *Client) Transaction(ctx context.Context, guid string) (*Transaction, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	endpoint := c.baseURL + "/" + url.PathEscape(c.merchant) + "/transactions/" + url.PathEscape(guid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("armenotech request error: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-App-Token", c.token)
	req.Header.Set("X-App-Secret", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("armenotech request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("armenotech read error: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 1000 {
			body = body[:1000]
		}
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var tx Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("armenotech decode error: %w", err)
	}
	if tx.GUID == "" {
		tx.GUID = guid
	}
	return &tx, nil
}
