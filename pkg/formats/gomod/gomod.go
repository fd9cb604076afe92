// Package gomod serves the Go module proxy protocol (GOPROXY). Version
// lists, info, and mod files are proxied with a short cache window;
// module zips are pulled through the cache.
package gomod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/formats"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/registry"
)

// Handlers serves GOPROXY requests for one target repository or group.
type Handlers struct {
	target   string
	deps     formats.Deps
	resolver *groups.Resolver
}

// NewHandlers creates the Go module adapter bound to target.
func NewHandlers(target string, deps formats.Deps, resolver *groups.Resolver) *Handlers {
	return &Handlers{target: target, deps: deps, resolver: resolver}
}

// RegisterRoutes registers the GOPROXY wire surface under /go. Module
// paths contain slashes, so routing is by prefix with manual parsing.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.PathPrefix("/go/").HandlerFunc(h.route).Methods("GET")
}

// Escape applies the module proxy path encoding: each upper-case letter
// becomes "!" followed by its lower-case. Idempotent on already-escaped
// paths, which contain no upper-case letters.
func Escape(modulePath string) string {
	var b strings.Builder
	b.Grow(len(modulePath))
	for _, r := range modulePath {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('!')
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Unescape reverses Escape, restoring "!m" to "M". The canonical module
// path keys the cache so both spellings of a request share one entry.
func Unescape(escaped string) string {
	var b strings.Builder
	b.Grow(len(escaped))
	bang := false
	for _, r := range escaped {
		switch {
		case bang:
			if r >= 'a' && r <= 'z' {
				b.WriteRune(r - 'a' + 'A')
			} else {
				b.WriteByte('!')
				b.WriteRune(r)
			}
			bang = false
		case r == '!':
			bang = true
		default:
			b.WriteRune(r)
		}
	}
	if bang {
		b.WriteByte('!')
	}
	return b.String()
}

func (h *Handlers) route(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/go/")

	if module, ok := strings.CutSuffix(rest, "/@latest"); ok {
		h.proxyMetadata(w, r, module, "@latest")
		return
	}

	idx := strings.Index(rest, "/@v/")
	if idx <= 0 {
		httputil.WriteRegistryError(w, fmt.Errorf("malformed module path %q: %w", rest, registry.ErrInvalidRequest))
		return
	}
	module, file := rest[:idx], rest[idx+len("/@v/"):]

	switch {
	case file == "list",
		strings.HasSuffix(file, ".info"),
		strings.HasSuffix(file, ".mod"):
		h.proxyMetadata(w, r, module, "@v/"+file)

	case strings.HasSuffix(file, ".zip"):
		h.getZip(w, r, module, strings.TrimSuffix(file, ".zip"))

	default:
		httputil.WriteRegistryError(w, fmt.Errorf("unknown module file %q: %w", file, registry.ErrInvalidRequest))
	}
}

// proxyMetadata streams a mutable proxy document (list, .info, .mod,
// @latest) from the first member that has it.
func (h *Handlers) proxyMetadata(w http.ResponseWriter, r *http.Request, module, suffix string) {
	ctx := r.Context()

	candidates, err := h.resolver.Resolve(ctx, h.target, registry.FormatGo)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	path := Escape(Unescape(module)) + "/" + suffix
	for _, repo := range candidates {
		if repo.Type != registry.TypeProxy {
			continue
		}
		resp, err := h.deps.Client.Fetch(ctx, repo, path, nil)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			httputil.WriteRegistryError(w, err)
			return
		}
		defer resp.Body.Close()

		contentType := resp.ContentType
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		httputil.SetMetadataHeaders(w, repo.Name, contentType)
		w.WriteHeader(http.StatusOK)
		io.Copy(w, resp.Body)
		return
	}
	httputil.WriteNotFoundError(w, "not found")
}

// getZip pulls a module zip through the cache. The canonical
// (unescaped) module path keys the artifact.
func (h *Handlers) getZip(w http.ResponseWriter, r *http.Request, module, version string) {
	canonical := Unescape(module)

	req := cache.Request{
		Target:  h.target,
		Format:  registry.FormatGo,
		Name:    canonical,
		Version: version,
	}

	result, err := h.deps.Engine.Serve(r.Context(), req, func(ctx context.Context, repo *registry.Repository) (*cache.FetchResponse, error) {
		resp, err := h.deps.Client.Fetch(ctx, repo, Escape(canonical)+"/@v/"+version+".zip", nil)
		if err != nil {
			return nil, err
		}
		return &cache.FetchResponse{Body: resp.Body, ContentType: "application/zip", Size: resp.Size}, nil
	})
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	formats.RecordDownload(h.deps, result, canonical, version, r)
	formats.ServeResult(w, r, result)
}
