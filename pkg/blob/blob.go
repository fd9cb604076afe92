package blob

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored blob without its bytes.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store is a flat key→blob store. Absent keys surface as
// registry.ErrNotFound. The store does not retry; failures are I/O errors
// retriable at the caller's discretion.
type Store interface {
	// Put consumes r to end-of-stream. Readers observing key see either
	// the full new blob or the previous state, never a partial blob.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Get opens a reader over the blob at key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Head returns metadata for the blob at key.
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete removes the blob at key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Exists reports whether a blob is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns up to limit keys beginning with prefix.
	List(ctx context.Context, prefix string, limit int) ([]string, error)
	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}
