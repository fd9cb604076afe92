// Package docker serves the Docker Registry v2 wire surface: the
// version check, manifests, and blobs, with composite artifact keys and
// digest verification on blobs.
package docker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/formats"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/registry"
)

const (
	apiVersionHeader = "Docker-Distribution-API-Version"
	apiVersionValue  = "registry/2.0"
	digestHeader     = "Docker-Content-Digest"

	// Hub bearer tokens last 300s; refresh well before that.
	tokenTTL      = 4 * time.Minute
	tokenCacheLen = 512
	tokenDeadline = 3 * time.Second

	hubAuthURL = "https://auth.docker.io/token?service=registry.docker.io&scope=repository:%s:pull"

	// Manifests are small; anything past this is not a manifest.
	maxManifestSize = 8 * 1024 * 1024

	manifestAccept = "application/vnd.docker.distribution.manifest.v2+json, " +
		"application/vnd.docker.distribution.manifest.list.v2+json, " +
		"application/vnd.oci.image.manifest.v1+json, " +
		"application/vnd.oci.image.index.v1+json"
)

// Handlers serves Docker Registry v2 requests for one target.
type Handlers struct {
	target string
	deps   formats.Deps
	tokens *expirable.LRU[string, string]
}

// NewHandlers creates the Docker adapter bound to target.
func NewHandlers(target string, deps formats.Deps) *Handlers {
	return &Handlers{
		target: target,
		deps:   deps,
		tokens: expirable.NewLRU[string, string](tokenCacheLen, nil, tokenTTL),
	}
}

// RegisterRoutes registers the registry v2 wire surface. Image names may
// contain slashes, so the name var is a wildcard.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v2/", h.getBase).Methods("GET")
	r.HandleFunc("/v2/{name:.+}/manifests/{ref}", h.getManifest).Methods("GET", "HEAD")
	r.HandleFunc("/v2/{name:.+}/blobs/{digest}", h.getBlob).Methods("GET", "HEAD")
}

// getBase answers the version check every Docker client starts with.
func (h *Handlers) getBase(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(apiVersionHeader, apiVersionValue)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("{}"))
}

// isDockerHub reports whether the upstream is Docker Hub, which needs
// the library/ prefix for official images and token auth.
func isDockerHub(upstreamURL string) bool {
	return strings.Contains(upstreamURL, "docker.io")
}

// upstreamImage applies Docker Hub's library/ namespace to bare
// official image names.
func upstreamImage(repo *registry.Repository, image string) string {
	if isDockerHub(repo.UpstreamURL) && !strings.Contains(image, "/") {
		return "library/" + image
	}
	return image
}

// token fetches (or reuses) a Hub pull token for image. Non-Hub
// upstreams use basic auth through the shared client instead.
func (h *Handlers) token(ctx context.Context, image string) (string, error) {
	if tok, ok := h.tokens.Get(image); ok {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, tokenDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(hubAuthURL, image), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	resp, err := h.deps.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token for %s: %v: %w", image, err, registry.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token for %s: status %d: %w", image, resp.StatusCode, registry.ErrUnauthorized)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token for %s: %w", image, err)
	}
	h.tokens.Add(image, payload.Token)
	return payload.Token, nil
}

// fetch builds the per-member closure for a manifest or blob path.
func (h *Handlers) fetch(image, path string, accept string) cache.FetchFunc {
	return func(ctx context.Context, repo *registry.Repository) (*cache.FetchResponse, error) {
		header := http.Header{}
		if accept != "" {
			header.Set("Accept", accept)
		}
		if isDockerHub(repo.UpstreamURL) {
			tok, err := h.token(ctx, upstreamImage(repo, image))
			if err != nil {
				return nil, err
			}
			header.Set("Authorization", "Bearer "+tok)
		}

		upstreamPath := fmt.Sprintf("v2/%s/%s", upstreamImage(repo, image), path)
		resp, err := h.deps.Client.Fetch(ctx, repo, upstreamPath, header)
		if err != nil {
			return nil, err
		}
		contentType := resp.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return &cache.FetchResponse{Body: resp.Body, ContentType: contentType, Size: resp.Size}, nil
	}
}

// getManifest serves a manifest by tag or digest through the cache.
func (h *Handlers) getManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	image, ref := vars["name"], vars["ref"]

	req := cache.Request{
		Target:  h.target,
		Format:  registry.FormatDocker,
		Name:    fmt.Sprintf("%s:manifest:%s", image, ref),
		Version: ref,
	}

	result, err := h.deps.Engine.Serve(r.Context(), req, h.fetch(image, "manifests/"+ref, manifestAccept))
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	formats.RecordDownload(h.deps, result, image, ref, r)

	if result.CacheStatus == cache.StatusHit {
		w.Header().Set(digestHeader, "sha256:"+result.Digest)
		w.Header().Set(apiVersionHeader, apiVersionValue)
		formats.ServeResult(w, r, result)
		return
	}

	// MISS: manifests are small JSON documents, so buffer to compute
	// Docker-Content-Digest before writing the body.
	defer result.Body.Close()
	body, err := io.ReadAll(io.LimitReader(result.Body, maxManifestSize))
	if err != nil {
		httputil.WriteRegistryError(w, fmt.Errorf("read manifest: %w", err))
		return
	}

	httputil.SetArtifactHeaders(w, result.CacheStatus, result.Repository.Name, result.ContentType, "", int64(len(body)))
	w.Header().Set(digestHeader, Digest(body))
	w.Header().Set(apiVersionHeader, apiVersionValue)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

// getBlob serves a blob by digest through the cache, verifying that the
// stored bytes hash to the digest in the URL.
func (h *Handlers) getBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	image, digest := vars["name"], vars["digest"]

	hexDigest, ok := strings.CutPrefix(digest, "sha256:")
	if !ok {
		httputil.WriteRegistryError(w, fmt.Errorf("unsupported digest %q: %w", digest, registry.ErrInvalidRequest))
		return
	}

	req := cache.Request{
		Target:  h.target,
		Format:  registry.FormatDocker,
		Name:    fmt.Sprintf("%s:blob:%s", image, digest),
		Version: digest,
	}

	result, err := h.deps.Engine.Serve(r.Context(), req, h.fetch(image, "blobs/"+digest, ""))
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}

	// On a HIT the row digest must match the address the client asked
	// for; a mismatch means the cached bytes are corrupt.
	if result.CacheStatus == cache.StatusHit && result.Digest != hexDigest {
		result.Body.Close()
		h.quarantine(result, hexDigest)
		httputil.WriteInternalError(w, fmt.Errorf("cached blob digest mismatch for %s", digest))
		return
	}
	if result.Stored != nil {
		h.verifyStored(result, hexDigest, image)
		// Hash the stream on its way to the client; a mismatch cuts the
		// response short of its declared Content-Length so the pull
		// fails instead of completing with bad bytes.
		result.Body = newVerifyingReader(result.Body, hexDigest)
	}

	w.Header().Set(digestHeader, digest)
	w.Header().Set(apiVersionHeader, apiVersionValue)

	formats.RecordDownload(h.deps, result, image, digest, r)
	formats.ServeResult(w, r, result)
}

// quarantine drops a corrupt cached blob so the next request re-fetches.
func (h *Handlers) quarantine(result *cache.Result, wantDigest string) {
	logger := h.deps.Logger.WithFields(map[string]interface{}{
		"want": wantDigest,
		"got":  result.Digest,
	})
	logger.Error("cached docker blob failed digest verification, evicting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.deps.Artifacts.Delete(ctx, result.Artifact); err != nil {
		logger.WithError(err).Warn("failed to evict corrupt blob")
	}
}

// verifyStored checks the freshly persisted blob against the addressed
// digest off the request path, removing it on mismatch.
func (h *Handlers) verifyStored(result *cache.Result, wantDigest, image string) {
	stored := result.Stored
	go func() {
		outcome, ok := <-stored
		if !ok || outcome.Err != nil || outcome.Artifact == nil {
			return
		}
		if outcome.Artifact.Digest == wantDigest {
			return
		}
		logger := h.deps.Logger.WithFields(map[string]interface{}{
			"image": image,
			"want":  wantDigest,
			"got":   outcome.Artifact.Digest,
		})
		logger.Error("upstream docker blob failed digest verification, removing from cache")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.deps.Artifacts.Delete(ctx, outcome.Artifact); err != nil {
			logger.WithError(err).Warn("failed to remove mismatched blob")
		}
	}()
}

const verifyChunkSize = 32 * 1024

// verifyingReader hashes a blob stream against its addressed digest.
// It lags the source by one chunk: a chunk is released only after the
// read that follows it, so when the stream ends with the wrong digest
// the tail is withheld and the caller's copy comes up short.
type verifyingReader struct {
	rc   io.ReadCloser
	sum  hash.Hash
	want string

	cur  []byte // released to the caller
	held []byte // read but not yet released
	err  error
}

func newVerifyingReader(rc io.ReadCloser, want string) *verifyingReader {
	return &verifyingReader{rc: rc, sum: sha256.New(), want: want}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	for len(v.cur) == 0 {
		if v.err != nil {
			return 0, v.err
		}
		v.advance()
	}
	n := copy(p, v.cur)
	v.cur = v.cur[n:]
	return n, nil
}

func (v *verifyingReader) advance() {
	buf := make([]byte, verifyChunkSize)
	n, readErr := v.rc.Read(buf)
	if n > 0 {
		v.sum.Write(buf[:n])
	}

	switch {
	case readErr == io.EOF:
		if got := hex.EncodeToString(v.sum.Sum(nil)); got != v.want {
			v.held = nil
			v.err = fmt.Errorf("blob stream hashed to sha256:%s, want sha256:%s: %w", got, v.want, registry.ErrInternal)
			return
		}
		v.cur = append(v.held, buf[:n]...)
		v.held = nil
		v.err = io.EOF
	case readErr != nil:
		// Broken upstream stream. Withhold the tail too.
		v.cur, v.held = v.held, nil
		v.err = readErr
	default:
		v.cur, v.held = v.held, buf[:n]
	}
}

func (v *verifyingReader) Close() error { return v.rc.Close() }

// Digest computes the registry content digest for a byte slice.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
