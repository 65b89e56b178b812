// Package pdfrender converts HTML to PDF through a headless-browser render
// service exposing the Gotenberg Chromium HTML route.
package pdfrender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	convertPath    = "/forms/chromium/convert/html"
	defaultTimeout = 60 * time.Second
	maxPDFBytes    = 50 << 20
)

var ErrNotPDF = errors.New("pdfrender: response is not a PDF")

// Client represents the render service HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a render client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// RenderHTML uploads html as index.html and returns the PDF bytes.
func (c *Client) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, fmt.Errorf("pdfrender request error: %w", err)
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, fmt.Errorf("pdfrender request error: %w", err)
	}
	for k, v := range map[string]string{
		"printBackground": "true",
		"paperWidth":      "8.27",
		"paperHeight":     "11.7",
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("pdfrender request error: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pdfrender request error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertPath, &body)
	if err != nil {
		return nil, fmt.Errorf("pdfrender request error: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdfrender request error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return nil, fmt.Errorf("pdfrender read error: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > 500 {
			data = data[:500]
		}
		return nil, fmt.Errorf("pdfrender http error: status=%d body=%s", resp.StatusCode, string(data))
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, ErrNotPDF
	}
	return data, nil
}
