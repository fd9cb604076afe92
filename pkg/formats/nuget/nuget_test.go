package nuget

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/brunocascio/amargo/pkg/artifacts"
	"github.com/brunocascio/amargo/pkg/blob"
	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/formats"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
	"github.com/brunocascio/amargo/pkg/upstream"
)

type fixture struct {
	router *mux.Router
	meta   *metastore.MemoryStore
	repo   *registry.Repository
}

func newFixture(t *testing.T, upstreamURL string) *fixture {
	t.Helper()
	blobs, err := blob.NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	meta := metastore.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	svc := artifacts.NewService(context.Background(), blobs, meta, logger, nil, "filesystem", time.Hour)
	t.Cleanup(func() { svc.Close() })

	resolver := groups.NewResolver(meta)
	deps := formats.Deps{
		Engine:    cache.NewEngine(resolver, svc, logger, nil),
		Artifacts: svc,
		Client:    upstream.NewClient(5*time.Second, logger, nil),
		Logger:    logger,
	}

	repo := &registry.Repository{
		Name:        "nuget-proxy",
		Format:      registry.FormatNuGet,
		Type:        registry.TypeProxy,
		UpstreamURL: upstreamURL,
		Enabled:     true,
	}
	if err := meta.UpsertRepository(context.Background(), repo); err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}

	router := mux.NewRouter()
	NewHandlers("nuget-proxy", deps, resolver).RegisterRoutes(router)
	return &fixture{router: router, meta: meta, repo: repo}
}

func TestGetServiceIndex(t *testing.T) {
	f := newFixture(t, "https://upstream.example/v3-flatcontainer")

	req := httptest.NewRequest("GET", "/nuget/v3/index.json", nil)
	req.Host = "cache.internal:8080"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var index struct {
		Version   string `json:"version"`
		Resources []struct {
			ID   string `json:"@id"`
			Type string `json:"@type"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &index); err != nil {
		t.Fatalf("unmarshal index: %v", err)
	}
	if index.Version != "3.0.0" {
		t.Errorf("version = %q, want 3.0.0", index.Version)
	}

	byType := map[string]string{}
	for _, res := range index.Resources {
		byType[res.Type] = res.ID
	}
	if got := byType["PackageBaseAddress/3.0.0"]; got != "http://cache.internal:8080/nuget/v3-flatcontainer/" {
		t.Errorf("PackageBaseAddress = %q", got)
	}
	if _, ok := byType["RegistrationsBaseUrl/3.6.0"]; !ok {
		t.Error("index missing RegistrationsBaseUrl/3.6.0")
	}
}

func TestGetVersionList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/newtonsoft.json/index.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"versions":["12.0.3","13.0.3"]}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	// Package ids are case-insensitive; the upstream only sees lowercase.
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("GET", "/nuget/v3-flatcontainer/Newtonsoft.Json/index.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"versions":["12.0.3","13.0.3"]}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestGetPackageMissThenHit(t *testing.T) {
	nupkg := "nupkg bytes"
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/newtonsoft.json/13.0.3/newtonsoft.json.13.0.3.nupkg" {
			http.NotFound(w, r)
			return
		}
		hits++
		w.Write([]byte(nupkg))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	url := "/nuget/v3-flatcontainer/Newtonsoft.Json/13.0.3/newtonsoft.json.13.0.3.nupkg"

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("miss status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != nupkg {
		t.Errorf("miss body = %q", rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.meta.GetArtifact(context.Background(), f.repo.ID, "newtonsoft.json", "13.0.3"); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("hit status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(httputil.HeaderCacheStatus); got != httputil.CacheStatusHit {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d, want 1", hits)
	}
}

func TestGetNuspecPassthrough(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/newtonsoft.json/13.0.3/newtonsoft.json.nuspec" {
			http.NotFound(w, r)
			return
		}
		hits++
		w.Write([]byte("<package/>"))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	url := "/nuget/v3-flatcontainer/newtonsoft.json/13.0.3/newtonsoft.json.nuspec"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != "<package/>" {
			t.Errorf("body = %q", rec.Body.String())
		}
	}
	if hits != 2 {
		t.Errorf("upstream hits = %d, want 2 (nuspec is never cached)", hits)
	}
}

func TestGetFileUnexpectedExtension(t *testing.T) {
	f := newFixture(t, "http://upstream.invalid")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("GET", "/nuget/v3-flatcontainer/pkg/1.0.0/pkg.exe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
