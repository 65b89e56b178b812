package storage

import (
	"context"
	"io"
)

// Storage is where generated course exports are written.
type Storage interface {
	// Put stores the object under key, replacing any previous object.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// GetURL returns the public URL for key.
	GetURL(key string) string
}
