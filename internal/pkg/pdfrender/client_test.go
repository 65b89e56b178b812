package pdfrender

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRenderHTMLUploadsIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != convertPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("files")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		html, _ := io.ReadAll(file)
		if header.Filename != "index.html" || !strings.Contains(string(html), "<h1>Plan</h1>") {
			t.Errorf("unexpected upload %s %q", header.Filename, html)
		}
		if r.FormValue("printBackground") != "true" {
			t.Errorf("missing printBackground")
		}
		w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL, time.Second).RenderHTML(context.Background(), "<h1>Plan</h1>")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(string(pdf), "%PDF") {
		t.Fatalf("unexpected body %q", pdf)
	}
}

func TestRenderHTMLErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"server error", http.StatusInternalServerError, "boom", func(err error) bool {
			return err != nil && strings.Contains(err.Error(), "status=500")
		}},
		{"not a pdf", http.StatusOK, "<html>", func(err error) bool { return errors.Is(err, ErrNotPDF) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).RenderHTML(context.Background(), "x")
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
