package core

import (
	"context"
	"io"
	"time"
)

// FileStore is any service that can keep uploaded documents.
type FileStore interface {
	// Put stores the content of r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// URL returns a temporary download URL for key.
	URL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}
