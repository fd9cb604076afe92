package registry

import "errors"

// Error taxonomy. Handlers classify these to HTTP statuses; see
// pkg/httputil.WriteRegistryError.
var (
	// ErrNotFound: no cached artifact and every upstream candidate
	// returned a clean 404/410.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable: network failure or non-2xx (other than
	// 404/410/401) from an upstream.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUnauthorized: upstream rejected our credentials or token.
	ErrUnauthorized = errors.New("upstream unauthorized")
	// ErrStoreFailure: metadata or object-store write failed during a
	// MISS. The client still receives the bytes.
	ErrStoreFailure = errors.New("store failure")
	// ErrInvalidRequest: adapter-level parse failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInternal: precondition violated (repository missing, config
	// incomplete).
	ErrInternal = errors.New("internal error")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
