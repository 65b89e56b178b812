package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoragePutAndExists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "http://localhost/exports/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	ok, err := s.Exists(ctx, "courses/a.pdf")
	if err != nil || ok {
		t.Fatalf("expected missing file, got %v %v", ok, err)
	}

	if err := s.Put(ctx, "courses/a.pdf", strings.NewReader("%PDF-1.7"), "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}

	ok, err = s.Exists(ctx, "courses/a.pdf")
	if err != nil || !ok {
		t.Fatalf("expected file to exist, got %v %v", ok, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "courses", "a.pdf"))
	if err != nil || string(data) != "%PDF-1.7" {
		t.Fatalf("unexpected content %q %v", data, err)
	}

	if got := s.GetURL("courses/a.pdf"); got != "http://localhost/exports/courses/a.pdf" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestLocalStorageKeepsKeysInsideBase(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err != nil {
		t.Fatalf("expected file under base dir: %v", err)
	}
	if err := s.Put(context.Background(), "", strings.NewReader("x"), "text/plain"); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
