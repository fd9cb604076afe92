package httputil

import (
	"fmt"
	"net/http"
	"strconv"
)

// Response headers set on every artifact and metadata reply. The legacy
// cache header is kept for clients that still read it.
const (
	HeaderCacheStatus       = "X-Cache"
	HeaderCacheStatusLegacy = "X-Amargo-Cache"
	HeaderRepository        = "X-Repository"
	HeaderRequestID         = "X-Request-ID"

	CacheStatusHit  = "HIT"
	CacheStatusMiss = "MISS"
)

// Versioned artifacts never change once published, so clients may cache
// them forever. Mutable documents (package metadata, version indexes)
// get a short window.
const (
	cacheControlImmutable = "public, max-age=31536000, immutable"
	cacheControlMutable   = "public, max-age=300"
)

// SetArtifactHeaders writes the headers for a served artifact body.
// The digest is the SHA-256 hex of the content and doubles as the ETag.
func SetArtifactHeaders(w http.ResponseWriter, cacheStatus, repository, contentType, digest string, size int64) {
	h := w.Header()
	h.Set(HeaderCacheStatus, cacheStatus)
	h.Set(HeaderCacheStatusLegacy, cacheStatus)
	if repository != "" {
		h.Set(HeaderRepository, repository)
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if size > 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if digest != "" {
		h.Set("ETag", fmt.Sprintf("%q", digest))
	}
	h.Set("Cache-Control", cacheControlImmutable)
}

// SetMetadataHeaders writes the headers for a mutable metadata document
// proxied from upstream (npm packuments, PyPI simple indexes).
func SetMetadataHeaders(w http.ResponseWriter, repository, contentType string) {
	h := w.Header()
	if repository != "" {
		h.Set(HeaderRepository, repository)
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Cache-Control", cacheControlMutable)
}
