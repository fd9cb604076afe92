package cache

import (
	"io"
	"time"

	"github.com/brunocascio/amargo/pkg/registry"
)

// Cache status values surfaced to clients.
const (
	StatusHit  = "HIT"
	StatusMiss = "MISS"
)

// Request identifies one artifact to serve through the cache.
type Request struct {
	// Target is the repository or group name from the URL.
	Target string
	Format registry.Format
	// Name and Version key the artifact within its repository. For
	// Docker these are composite ("<image>:blob:<digest>").
	Name    string
	Version string
	// TTL overrides the repository cache TTL when positive.
	TTL time.Duration
	// Metadata is attached to the artifact row on a MISS.
	Metadata map[string]string
}

// FetchResponse is one successfully opened upstream body.
type FetchResponse struct {
	Body        io.ReadCloser
	ContentType string
	// Size is the upstream Content-Length, -1 when unknown.
	Size int64
}

// StoreOutcome reports the persist attempt that follows a MISS.
type StoreOutcome struct {
	Artifact *registry.Artifact
	Err      error
}

// Result is a serveable artifact stream. Body is always non-nil and the
// caller owns closing it.
type Result struct {
	CacheStatus string
	// Repository is the member that satisfied the request.
	Repository *registry.Repository
	// Artifact is set on a HIT. On a MISS it is not yet known; the
	// persisted row arrives on Stored.
	Artifact    *registry.Artifact
	Body        io.ReadCloser
	ContentType string
	// Size is -1 when unknown (streaming MISS without Content-Length).
	Size int64
	// Digest is empty on a MISS; it is only known once the stream has
	// been consumed.
	Digest string
	// Stored receives exactly one StoreOutcome after a MISS persist
	// attempt, then closes. Nil on a HIT.
	Stored <-chan StoreOutcome
}
