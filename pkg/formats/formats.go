// Package formats holds the plumbing shared by the protocol adapters:
// the dependency bundle they are built over and the response helpers
// that keep cache headers consistent across ecosystems.
package formats

import (
	"io"
	"net"
	"net/http"

	"github.com/brunocascio/amargo/pkg/artifacts"
	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/upstream"
)

// Deps bundles the collaborators every adapter is built over.
type Deps struct {
	Engine    *cache.Engine
	Artifacts *artifacts.Service
	Client    *upstream.Client
	Logger    *observability.Logger
}

// ClientIP extracts the caller address for download events, preferring
// X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeResult writes a cache engine result to the client: headers,
// status, then the body stream. The copy error is ignored; a client
// hanging up mid-body is routine and the persist sink is unaffected.
func ServeResult(w http.ResponseWriter, r *http.Request, result *cache.Result) {
	defer result.Body.Close()

	repoName := ""
	if result.Repository != nil {
		repoName = result.Repository.Name
	}
	httputil.SetArtifactHeaders(w, result.CacheStatus, repoName, result.ContentType, result.Digest, result.Size)

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, result.Body)
}

// RecordDownload emits the audit event for a served artifact.
func RecordDownload(deps Deps, result *cache.Result, name, version string, r *http.Request) {
	if result.Repository == nil {
		return
	}
	deps.Artifacts.RecordDownload(result.Repository.ID, name, version, ClientIP(r), r.UserAgent())
}
