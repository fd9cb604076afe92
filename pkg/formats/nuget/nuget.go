// Package nuget serves the NuGet V3 wire surface: a locally generated
// service index, proxied flat-container version lists, and .nupkg
// packages pulled through the cache.
package nuget

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

// nugetOrgRegistrations is the registration base advertised when the
// upstream is nuget.org; other upstreams get a path under their own base.
const nugetOrgRegistrations = "https://api.nuget.org/v3/registration5-semver1/"

// Handlers serves NuGet V3 requests for one target repository or group.
type Handlers struct {
	target   string
	deps     formats.Deps
	resolver *groups.Resolver
}

// NewHandlers creates the NuGet adapter bound to target.
func NewHandlers(target string, deps formats.Deps, resolver *groups.Resolver) *Handlers {
	return &Handlers{target: target, deps: deps, resolver: resolver}
}

// RegisterRoutes registers the NuGet wire surface under /nuget.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/nuget/v3/index.json", h.getServiceIndex).Methods("GET")
	r.HandleFunc("/nuget/v3-flatcontainer/{id}/index.json", h.getVersionList).Methods("GET")
	r.HandleFunc("/nuget/v3-flatcontainer/{id}/{version}/{filename}", h.getFile).Methods("GET", "HEAD")
}

// baseURL reconstructs the externally visible base for service index
// resource URLs.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// getServiceIndex answers the V3 service index clients bootstrap from.
// The flat container points back at this proxy; registrations point at
// the first proxy member's registration base.
func (h *Handlers) getServiceIndex(w http.ResponseWriter, r *http.Request) {
	registrations := nugetOrgRegistrations
	if candidates, err := h.resolver.Resolve(r.Context(), h.target, registry.FormatNuGet); err == nil {
		for _, repo := range candidates {
			if repo.Type != registry.TypeProxy {
				continue
			}
			if !strings.Contains(repo.UpstreamURL, "nuget.org") {
				registrations = strings.TrimRight(repo.UpstreamURL, "/") + "/registration/"
			}
			break
		}
	}

	base := baseURL(r)
	index := map[string]interface{}{
		"version": "3.0.0",
		"resources": []map[string]string{
			{
				"@id":   base + "/nuget/v3-flatcontainer/",
				"@type": "PackageBaseAddress/3.0.0",
			},
			{
				"@id":   registrations,
				"@type": "RegistrationsBaseUrl/3.6.0",
			},
		},
	}
	httputil.WriteSuccess(w, index)
}

// getVersionList proxies the flat-container version list. Version lists
// grow on every publish, so they stay mutable.
func (h *Handlers) getVersionList(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(mux.Vars(r)["id"])
	ctx := r.Context()

	candidates, err := h.resolver.Resolve(ctx, h.target, registry.FormatNuGet)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	for _, repo := range candidates {
		if repo.Type != registry.TypeProxy {
			continue
		}
		resp, err := h.deps.Client.Fetch(ctx, repo, id+"/index.json", nil)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			httputil.WriteRegistryError(w, err)
			return
		}
		defer resp.Body.Close()

		httputil.SetMetadataHeaders(w, repo.Name, "application/json")
		w.WriteHeader(http.StatusOK)
		io.Copy(w, resp.Body)
		return
	}
	httputil.WriteNotFoundError(w, fmt.Sprintf("package %s not found", id))
}

// getFile serves one flat-container file. Packages (.nupkg) are
// immutable and pull through the cache; manifests (.nuspec) pass
// through uncached.
func (h *Handlers) getFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := strings.ToLower(vars["id"])
	version := strings.ToLower(vars["version"])
	filename := strings.ToLower(vars["filename"])
	upstreamPath := fmt.Sprintf("%s/%s/%s", id, version, filename)

	switch {
	case strings.HasSuffix(filename, ".nupkg"):
		h.getPackage(w, r, id, version, filename, upstreamPath)
	case strings.HasSuffix(filename, ".nuspec"):
		h.passthrough(w, r, upstreamPath)
	default:
		httputil.WriteRegistryError(w, fmt.Errorf("unexpected flat-container file %q: %w", filename, registry.ErrInvalidRequest))
	}
}

func (h *Handlers) getPackage(w http.ResponseWriter, r *http.Request, id, version, filename, upstreamPath string) {
	req := cache.Request{
		Target:   h.target,
		Format:   registry.FormatNuGet,
		Name:     id,
		Version:  version,
		Metadata: map[string]string{"filename": filename},
	}

	result, err := h.deps.Engine.Serve(r.Context(), req, func(ctx context.Context, repo *registry.Repository) (*cache.FetchResponse, error) {
		resp, err := h.deps.Client.Fetch(ctx, repo, upstreamPath, nil)
		if err != nil {
			return nil, err
		}
		return &cache.FetchResponse{Body: resp.Body, ContentType: "application/octet-stream", Size: resp.Size}, nil
	})
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	formats.RecordDownload(h.deps, result, id, version, r)
	formats.ServeResult(w, r, result)
}

func (h *Handlers) passthrough(w http.ResponseWriter, r *http.Request, upstreamPath string) {
	ctx := r.Context()

	candidates, err := h.resolver.Resolve(ctx, h.target, registry.FormatNuGet)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	for _, repo := range candidates {
		if repo.Type != registry.TypeProxy {
			continue
		}
		resp, err := h.deps.Client.Fetch(ctx, repo, upstreamPath, nil)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			httputil.WriteRegistryError(w, err)
			return
		}
		defer resp.Body.Close()

		httputil.SetMetadataHeaders(w, repo.Name, "application/xml")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, resp.Body)
		}
		return
	}
	httputil.WriteNotFoundError(w, "not found")
}
