// Package maven serves the Maven repository layout. Versioned files are
// pulled through the cache; maven-metadata.xml is mutable and proxied
// with a short cache window.
package maven

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"

	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/formats"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/registry"
)

// Coordinates identify one file in the repository layout.
type Coordinates struct {
	GroupID    string
	ArtifactID string
	// Version is empty for maven-metadata.xml.
	Version  string
	Filename string
}

// Metadata reports whether the coordinates point at the mutable
// maven-metadata.xml rather than a versioned file.
func (c Coordinates) Metadata() bool {
	return c.Version == ""
}

// ParsePath maps a repository-layout path onto coordinates. The last
// segment is the filename; maven-metadata.xml sits directly under the
// artifact directory, everything else under a version directory.
func ParsePath(p string) (Coordinates, error) {
	segments := strings.Split(strings.Trim(p, "/"), "/")

	if len(segments) >= 2 && segments[len(segments)-1] == "maven-metadata.xml" {
		return Coordinates{
			GroupID:    strings.Join(segments[:len(segments)-2], "."),
			ArtifactID: segments[len(segments)-2],
			Filename:   "maven-metadata.xml",
		}, nil
	}

	if len(segments) < 4 {
		return Coordinates{}, fmt.Errorf("maven path %q too short: %w", p, registry.ErrInvalidRequest)
	}
	n := len(segments)
	return Coordinates{
		GroupID:    strings.Join(segments[:n-3], "."),
		ArtifactID: segments[n-3],
		Version:    segments[n-2],
		Filename:   segments[n-1],
	}, nil
}

// ContentType maps a filename onto the response content type.
func ContentType(filename string) string {
	switch path.Ext(filename) {
	case ".jar", ".war", ".ear":
		return "application/java-archive"
	case ".pom", ".xml":
		return "application/xml"
	case ".sha1", ".md5", ".asc":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// Handlers serves Maven requests for one target repository or group.
type Handlers struct {
	target   string
	deps     formats.Deps
	resolver *groups.Resolver
}

// NewHandlers creates the Maven adapter bound to target.
func NewHandlers(target string, deps formats.Deps, resolver *groups.Resolver) *Handlers {
	return &Handlers{target: target, deps: deps, resolver: resolver}
}

// RegisterRoutes registers the Maven wire surface under /maven.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.PathPrefix("/maven/").HandlerFunc(h.get).Methods("GET", "HEAD")
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	relPath := strings.TrimPrefix(r.URL.Path, "/maven/")

	coords, err := ParsePath(relPath)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	if coords.Metadata() {
		h.proxyMetadata(w, r, relPath)
		return
	}

	// A version directory holds several files (jar, pom, checksums), so
	// the filename is part of the artifact identity.
	name := fmt.Sprintf("%s:%s:%s", coords.GroupID, coords.ArtifactID, coords.Filename)
	contentType := ContentType(coords.Filename)

	req := cache.Request{
		Target:   h.target,
		Format:   registry.FormatMaven,
		Name:     name,
		Version:  coords.Version,
		Metadata: map[string]string{"filename": coords.Filename, "path": relPath},
	}

	result, err := h.deps.Engine.Serve(r.Context(), req, func(ctx context.Context, repo *registry.Repository) (*cache.FetchResponse, error) {
		resp, err := h.deps.Client.Fetch(ctx, repo, relPath, nil)
		if err != nil {
			return nil, err
		}
		return &cache.FetchResponse{Body: resp.Body, ContentType: contentType, Size: resp.Size}, nil
	})
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	formats.RecordDownload(h.deps, result, name, coords.Version, r)
	formats.ServeResult(w, r, result)
}

// proxyMetadata streams maven-metadata.xml from the first member that
// has it. Version lists change on every deploy, so they never enter
// the cache.
func (h *Handlers) proxyMetadata(w http.ResponseWriter, r *http.Request, relPath string) {
	ctx := r.Context()

	candidates, err := h.resolver.Resolve(ctx, h.target, registry.FormatMaven)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	for _, repo := range candidates {
		if repo.Type != registry.TypeProxy {
			continue
		}
		resp, err := h.deps.Client.Fetch(ctx, repo, relPath, nil)
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
