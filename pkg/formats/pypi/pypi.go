// Package pypi serves the PEP 503 simple index wire surface. Index
// pages are proxied with their file hrefs rewritten to point back at
// this proxy; the files themselves are pulled through the cache.
package pypi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"

	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/formats"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/registry"
)

// pythonHostedBase serves the files referenced by pypi.org simple pages.
const pythonHostedBase = "https://files.pythonhosted.org"

var normaliseRuns = regexp.MustCompile(`[-_.]+`)

// Normalise applies PEP 503 name normalisation: lowercase with runs of
// ".", "-", "_" collapsed to a single "-". Idempotent.
func Normalise(name string) string {
	return normaliseRuns.ReplaceAllString(strings.ToLower(name), "-")
}

// Handlers serves PyPI requests for one target repository or group.
type Handlers struct {
	target   string
	deps     formats.Deps
	resolver *groups.Resolver
}

// NewHandlers creates the PyPI adapter bound to target.
func NewHandlers(target string, deps formats.Deps, resolver *groups.Resolver) *Handlers {
	return &Handlers{target: target, deps: deps, resolver: resolver}
}

// RegisterRoutes registers the PyPI wire surface under /pypi.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/pypi/simple/", h.getIndex).Methods("GET")
	r.HandleFunc("/pypi/simple/{pkg}/", h.getSimplePage).Methods("GET")
	r.HandleFunc("/pypi/simple/{pkg}", h.getSimplePage).Methods("GET")
	r.HandleFunc("/pypi/packages/{p1}/{p2}/{p3}/{filename}", h.getPackage).Methods("GET", "HEAD")
}

// getIndex proxies the full simple index from the first proxy member.
func (h *Handlers) getIndex(w http.ResponseWriter, r *http.Request) {
	h.proxySimple(w, r, "simple/", false)
}

// getSimplePage proxies one package's simple page with hrefs rewritten.
// The name is normalised first, so any spelling of a package serves the
// same page.
func (h *Handlers) getSimplePage(w http.ResponseWriter, r *http.Request) {
	pkg := Normalise(mux.Vars(r)["pkg"])
	h.proxySimple(w, r, "simple/"+pkg+"/", true)
}

func (h *Handlers) proxySimple(w http.ResponseWriter, r *http.Request, path string, rewrite bool) {
	ctx := r.Context()

	candidates, err := h.resolver.Resolve(ctx, h.target, registry.FormatPyPI)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

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
			contentType = "text/html"
		}
		httputil.SetMetadataHeaders(w, repo.Name, contentType)

		if !rewrite {
			w.WriteHeader(http.StatusOK)
			io.Copy(w, resp.Body)
			return
		}

		// Index pages are small; buffer to rewrite hrefs.
		page, err := io.ReadAll(resp.Body)
		if err != nil {
			httputil.WriteRegistryError(w, fmt.Errorf("read simple page: %w", err))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(RewriteLinks(string(page))))
		return
	}
	httputil.WriteNotFoundError(w, "not found")
}

// RewriteLinks points absolute pythonhosted and relative package hrefs
// back at this proxy so pip downloads through the cache.
func RewriteLinks(page string) string {
	page = strings.ReplaceAll(page, pythonHostedBase+"/packages/", "/pypi/packages/")
	page = strings.ReplaceAll(page, "../../packages/", "/pypi/packages/")
	return page
}

// ParseFilename extracts the normalised package name and version from a
// distribution filename. Wheels carry the version as the second
// hyphen-separated segment; sdists carry it from the first hyphen that
// is followed by a digit.
func ParseFilename(filename string) (name, version string, err error) {
	if base, ok := strings.CutSuffix(filename, ".whl"); ok {
		parts := strings.SplitN(base, "-", 3)
		if len(parts) < 2 {
			return "", "", fmt.Errorf("wheel %q: %w", filename, registry.ErrInvalidRequest)
		}
		return Normalise(parts[0]), parts[1], nil
	}

	base := filename
	for _, ext := range []string{".tar.gz", ".tar.bz2", ".zip", ".egg"} {
		if b, ok := strings.CutSuffix(filename, ext); ok {
			base = b
			break
		}
	}
	if base == filename {
		return "", "", fmt.Errorf("distribution %q: unknown extension: %w", filename, registry.ErrInvalidRequest)
	}

	for i := 0; i+1 < len(base); i++ {
		if base[i] == '-' && base[i+1] >= '0' && base[i+1] <= '9' {
			return Normalise(base[:i]), base[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("distribution %q: no version segment: %w", filename, registry.ErrInvalidRequest)
}

// getPackage pulls a distribution file through the cache. The upstream
// URL preserves the pythonhosted three-segment prefix.
func (h *Handlers) getPackage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	filename := vars["filename"]
	upstreamPath := fmt.Sprintf("packages/%s/%s/%s/%s", vars["p1"], vars["p2"], vars["p3"], filename)

	name, version, err := ParseFilename(filename)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	req := cache.Request{
		Target:   h.target,
		Format:   registry.FormatPyPI,
		Name:     name,
		Version:  version,
		Metadata: map[string]string{"filename": filename},
	}

	result, err := h.deps.Engine.Serve(r.Context(), req, func(ctx context.Context, repo *registry.Repository) (*cache.FetchResponse, error) {
		files := repo
		if strings.Contains(repo.UpstreamURL, "pypi.org") {
			// pypi.org simple pages reference files on a separate host.
			clone := *repo
			clone.UpstreamURL = pythonHostedBase
			files = &clone
		}
		resp, err := h.deps.Client.Fetch(ctx, files, upstreamPath, nil)
		if err != nil {
			return nil, err
		}
		contentType := resp.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return &cache.FetchResponse{Body: resp.Body, ContentType: contentType, Size: resp.Size}, nil
	})
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	formats.RecordDownload(h.deps, result, name, version, r)
	formats.ServeResult(w, r, result)
}
