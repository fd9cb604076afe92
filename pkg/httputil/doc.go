// Package httputil provides HTTP handler utilities shared by the format
// adapters and the admin API.
//
// # Overview
//
// Consistent JSON error responses, mapping of the registry error taxonomy
// onto status codes, cache and provenance headers for served artifacts,
// request parsing helpers, and the middleware chain (request IDs, logging,
// metrics, panic recovery).
//
// # Headers
//
// Every served artifact carries X-Cache (HIT or MISS, mirrored to the
// legacy X-Amargo-Cache), X-Repository
// (the member repository that satisfied the request), an ETag holding the
// SHA-256 digest, and an immutable Cache-Control. Mutable metadata
// documents get a short max-age instead.
package httputil
