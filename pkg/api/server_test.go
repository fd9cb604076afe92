package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunocascio/amargo/pkg/config"
	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        "0",
		HealthPort:  "0",
		IdleTimeout: time.Minute,
	}
}

func newTestServer(t *testing.T) (*Server, *metastore.MemoryStore) {
	t.Helper()
	meta := metastore.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker(meta, nil, "test")

	return NewServer(meta, logger, metrics, health, reg), meta
}

func seedRepositories(t *testing.T, meta *metastore.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	repos := []*registry.Repository{
		{Name: "npm-primary", Format: registry.FormatNPM, Type: registry.TypeProxy, UpstreamURL: "https://registry.npmjs.org", Enabled: true},
		{Name: "pypi-primary", Format: registry.FormatPyPI, Type: registry.TypeProxy, UpstreamURL: "https://pypi.org", Enabled: true},
	}
	for _, repo := range repos {
		require.NoError(t, meta.UpsertRepository(ctx, repo))
	}
	group := &registry.Group{
		Name:    "npm",
		Format:  registry.FormatNPM,
		Members: []registry.GroupMember{{RepositoryName: "npm-primary", Priority: 0}},
	}
	require.NoError(t, meta.UpsertGroup(ctx, group))
}

func TestListRepositories(t *testing.T) {
	s, meta := newTestServer(t)
	seedRepositories(t, meta)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/repositories", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var repos []registry.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	assert.Len(t, repos, 2)
}

func TestGetRepository(t *testing.T) {
	s, meta := newTestServer(t)
	seedRepositories(t, meta)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/repositories/npm-primary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var repo registry.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repo))
	assert.Equal(t, "npm-primary", repo.Name)
	assert.Equal(t, registry.FormatNPM, repo.Format)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/repositories/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGroup(t *testing.T) {
	s, meta := newTestServer(t)
	seedRepositories(t, meta)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/groups/npm", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var group registry.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
	require.Len(t, group.Members, 1)
	assert.Equal(t, "npm-primary", group.Members[0].RepositoryName)
}

func TestLeastRecentlyAccessedLimit(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/artifacts/least-recently-accessed?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/artifacts/least-recently-accessed", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.healthHandler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "GET %s", path)
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/repositories", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStartAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)

	errCh := make(chan error, 2)
	require.NoError(t, s.Start(testServerConfig(), errCh))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		t.Fatalf("serve error = %v", err)
	default:
	}
}
