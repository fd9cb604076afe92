package maven

import (
	"context"
	"errors"
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

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		want    Coordinates
		wantErr bool
	}{
		{
			path: "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar",
			want: Coordinates{GroupID: "org.apache.commons", ArtifactID: "commons-lang3", Version: "3.12.0", Filename: "commons-lang3-3.12.0.jar"},
		},
		{
			path: "com/google/guava/guava/31.1-jre/guava-31.1-jre.pom",
			want: Coordinates{GroupID: "com.google.guava", ArtifactID: "guava", Version: "31.1-jre", Filename: "guava-31.1-jre.pom"},
		},
		{
			path: "org/apache/commons/commons-lang3/maven-metadata.xml",
			want: Coordinates{GroupID: "org.apache.commons", ArtifactID: "commons-lang3", Filename: "maven-metadata.xml"},
		},
		{path: "too/short.jar", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.wantErr {
				if !errors.Is(err, registry.ErrInvalidRequest) {
					t.Fatalf("ParsePath() error = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePath() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	tests := []struct{ filename, want string }{
		{"commons-lang3-3.12.0.jar", "application/java-archive"},
		{"guava-31.1-jre.pom", "application/xml"},
		{"maven-metadata.xml", "application/xml"},
		{"commons-lang3-3.12.0.jar.sha1", "text/plain"},
		{"module.zip", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentType(tt.filename); got != tt.want {
			t.Errorf("ContentType(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

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
		Name:        "maven-central",
		Format:      registry.FormatMaven,
		Type:        registry.TypeProxy,
		UpstreamURL: upstreamURL,
		Enabled:     true,
	}
	if err := meta.UpsertRepository(context.Background(), repo); err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}

	router := mux.NewRouter()
	NewHandlers("maven-central", deps, resolver).RegisterRoutes(router)
	return &fixture{router: router, meta: meta, repo: repo}
}

func TestGetArtifactMissThenHit(t *testing.T) {
	jar := "jar bytes"
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar" {
			http.NotFound(w, r)
			return
		}
		hits++
		w.Write([]byte(jar))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	url := "/maven/org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar"

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("miss status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != jar {
		t.Errorf("miss body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/java-archive" {
		t.Errorf("Content-Type = %q", ct)
	}

	name := "org.apache.commons:commons-lang3:commons-lang3-3.12.0.jar"
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.meta.GetArtifact(context.Background(), f.repo.ID, name, "3.12.0"); err == nil {
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

func TestPomAndJarAreDistinctEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/com/google/guava/guava/31.1-jre/guava-31.1-jre.jar":
			w.Write([]byte("jar"))
		case "/com/google/guava/guava/31.1-jre/guava-31.1-jre.pom":
			w.Write([]byte("<project/>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	for path, want := range map[string]string{
		"/maven/com/google/guava/guava/31.1-jre/guava-31.1-jre.jar": "jar",
		"/maven/com/google/guava/guava/31.1-jre/guava-31.1-jre.pom": "<project/>",
	} {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, rec.Code)
		}
		if rec.Body.String() != want {
			t.Errorf("GET %s body = %q, want %q", path, rec.Body.String(), want)
		}
	}
}

func TestMetadataPassthrough(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/org/apache/commons/commons-lang3/maven-metadata.xml" {
			http.NotFound(w, r)
			return
		}
		hits++
		w.Write([]byte("<metadata/>"))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	url := "/maven/org/apache/commons/commons-lang3/maven-metadata.xml"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=300" {
			t.Errorf("Cache-Control = %q", cc)
		}
	}
	// Version lists never enter the cache; every request goes upstream.
	if hits != 2 {
		t.Errorf("upstream hits = %d, want 2", hits)
	}
}
