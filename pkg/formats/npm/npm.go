// Package npm serves the npm registry wire surface: package metadata
// documents proxied with a short cache window and tarballs pulled
// through the cache.
package npm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/formats"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/registry"
	"github.com/brunocascio/amargo/pkg/upstream"
)

// Handlers serves npm requests for one target repository or group.
type Handlers struct {
	target   string
	deps     formats.Deps
	resolver *groups.Resolver
}

// NewHandlers creates the npm adapter bound to target.
func NewHandlers(target string, deps formats.Deps, resolver *groups.Resolver) *Handlers {
	return &Handlers{target: target, deps: deps, resolver: resolver}
}

// RegisterRoutes registers the npm wire surface under /npm.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	// Tarball routes first; metadata routes would shadow them.
	r.HandleFunc("/npm/{scope:@[^/]+}/{pkg}/-/{filename}", h.getTarball).Methods("GET", "HEAD")
	r.HandleFunc("/npm/{pkg}/-/{filename}", h.getTarball).Methods("GET", "HEAD")
	r.HandleFunc("/npm/{scope:@[^/]+}/{pkg}", h.getMetadata).Methods("GET")
	r.HandleFunc("/npm/{pkg}", h.getMetadata).Methods("GET")
}

// packageName joins the optional scope with the package segment.
// Clients send "@scope/pkg" either as two path segments or with an
// encoded slash; mux matches both against the two-segment routes.
func packageName(r *http.Request) string {
	vars := mux.Vars(r)
	if scope := vars["scope"]; scope != "" {
		return scope + "/" + vars["pkg"]
	}
	return vars["pkg"]
}

// Version extracts the version from a tarball filename by stripping the
// unscoped package name prefix and the .tgz suffix.
// "express-4.18.2.tgz" with package "express" yields "4.18.2".
func Version(pkg, filename string) (string, error) {
	clean := pkg
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		clean = pkg[i+1:]
	}
	base, ok := strings.CutSuffix(filename, ".tgz")
	if !ok {
		return "", fmt.Errorf("tarball %q: not a .tgz: %w", filename, registry.ErrInvalidRequest)
	}
	version, ok := strings.CutPrefix(base, clean+"-")
	if !ok || version == "" {
		return "", fmt.Errorf("tarball %q does not match package %q: %w", filename, pkg, registry.ErrInvalidRequest)
	}
	return version, nil
}

// getMetadata proxies the packument from the first proxy member that has
// it. Packuments are mutable so they are never cached here; the client
// gets a short max-age instead.
func (h *Handlers) getMetadata(w http.ResponseWriter, r *http.Request) {
	pkg := packageName(r)
	ctx := r.Context()

	candidates, err := h.resolver.Resolve(ctx, h.target, registry.FormatNPM)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	for _, repo := range candidates {
		if repo.Type != registry.TypeProxy {
			continue
		}
		resp, err := h.deps.Client.Fetch(ctx, repo, url.PathEscape(pkg), nil)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			httputil.WriteRegistryError(w, err)
			return
		}
		defer resp.Body.Close()

		// Packuments carry absolute tarball URLs pointing at the
		// upstream; rewrite them so installs come back through here.
		doc, err := io.ReadAll(resp.Body)
		if err != nil {
			httputil.WriteRegistryError(w, fmt.Errorf("read packument: %w", err))
			return
		}
		doc = RewriteTarballURLs(doc, repo.UpstreamURL, requestBase(r))

		httputil.SetMetadataHeaders(w, repo.Name, "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(doc)
		return
	}
	httputil.WriteNotFoundError(w, fmt.Sprintf("package %s not found", pkg))
}

// requestBase reconstructs the externally visible base URL for tarball
// rewriting.
func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// RewriteTarballURLs points packument dist.tarball URLs at this proxy.
func RewriteTarballURLs(doc []byte, upstreamURL, base string) []byte {
	from := strings.TrimRight(upstreamURL, "/") + "/"
	to := base + "/npm/"
	return []byte(strings.ReplaceAll(string(doc), from, to))
}

// getTarball pulls the tarball through the cache.
func (h *Handlers) getTarball(w http.ResponseWriter, r *http.Request) {
	pkg := packageName(r)
	filename := mux.Vars(r)["filename"]

	version, err := Version(pkg, filename)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	req := cache.Request{
		Target:   h.target,
		Format:   registry.FormatNPM,
		Name:     pkg,
		Version:  version,
		Metadata: map[string]string{"filename": filename},
	}

	result, err := h.deps.Engine.Serve(r.Context(), req, func(ctx context.Context, repo *registry.Repository) (*cache.FetchResponse, error) {
		resp, err := h.deps.Client.Fetch(ctx, repo, pkg+"/-/"+filename, nil)
		if err != nil {
			return nil, err
		}
		return fetchResponse(resp), nil
	})
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	formats.RecordDownload(h.deps, result, pkg, version, r)
	formats.ServeResult(w, r, result)
}

func fetchResponse(resp *upstream.Response) *cache.FetchResponse {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &cache.FetchResponse{Body: resp.Body, ContentType: contentType, Size: resp.Size}
}
