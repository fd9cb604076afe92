package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/brunocascio/amargo/pkg/artifacts"
	"github.com/brunocascio/amargo/pkg/blob"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
)

type fixture struct {
	engine *Engine
	svc    *artifacts.Service
	meta   *metastore.MemoryStore
	repos  map[string]*registry.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := blob.NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	meta := metastore.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	svc := artifacts.NewService(context.Background(), blobs, meta, logger, nil, "filesystem", time.Hour)
	t.Cleanup(func() { svc.Close() })

	f := &fixture{
		engine: NewEngine(groups.NewResolver(meta), svc, logger, nil),
		svc:    svc,
		meta:   meta,
		repos:  map[string]*registry.Repository{},
	}

	ctx := context.Background()
	for _, repo := range []*registry.Repository{
		{Name: "npm-hosted", Format: registry.FormatNPM, Type: registry.TypeHosted, Enabled: true},
		{Name: "npm-primary", Format: registry.FormatNPM, Type: registry.TypeProxy, UpstreamURL: "https://registry.npmjs.org", Enabled: true},
		{Name: "npm-mirror", Format: registry.FormatNPM, Type: registry.TypeProxy, UpstreamURL: "https://mirror.example", Enabled: true},
	} {
		if err := meta.UpsertRepository(ctx, repo); err != nil {
			t.Fatalf("UpsertRepository(%s) error = %v", repo.Name, err)
		}
		f.repos[repo.Name] = repo
	}
	group := &registry.Group{
		Name:   "npm",
		Format: registry.FormatNPM,
		Members: []registry.GroupMember{
			{RepositoryName: "npm-hosted", Priority: 0},
			{RepositoryName: "npm-primary", Priority: 1},
			{RepositoryName: "npm-mirror", Priority: 2},
		},
	}
	if err := meta.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("UpsertGroup() error = %v", err)
	}
	return f
}

func fetchFrom(bodies map[string]string) FetchFunc {
	return func(ctx context.Context, repo *registry.Repository) (*FetchResponse, error) {
		body, ok := bodies[repo.Name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", repo.Name, registry.ErrNotFound)
		}
		return &FetchResponse{
			Body:        io.NopCloser(strings.NewReader(body)),
			ContentType: "application/octet-stream",
			Size:        int64(len(body)),
		}, nil
	}
}

func npmRequest(name, version string) Request {
	return Request{Target: "npm", Format: registry.FormatNPM, Name: name, Version: version}
}

func waitStored(t *testing.T, result *Result) StoreOutcome {
	t.Helper()
	select {
	case outcome := <-result.Stored:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("persist did not complete")
		return StoreOutcome{}
	}
}

func TestEngine_MissFetchesAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.engine.Serve(ctx, npmRequest("express", "4.18.2"), fetchFrom(map[string]string{
		"npm-primary": "tarball from primary",
	}))
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if result.CacheStatus != StatusMiss {
		t.Errorf("cache status = %q, want MISS", result.CacheStatus)
	}
	if result.Repository.Name != "npm-primary" {
		t.Errorf("repository = %q, want npm-primary", result.Repository.Name)
	}

	got, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	result.Body.Close()
	if string(got) != "tarball from primary" {
		t.Errorf("body = %q", got)
	}

	outcome := waitStored(t, result)
	if outcome.Err != nil {
		t.Fatalf("persist error = %v", outcome.Err)
	}
	if outcome.Artifact.Size != int64(len("tarball from primary")) {
		t.Errorf("persisted size = %d", outcome.Artifact.Size)
	}

	// The stored copy serves the next request as a HIT with the same bytes.
	result2, err := f.engine.Serve(ctx, npmRequest("express", "4.18.2"), nil)
	if err != nil {
		t.Fatalf("second Serve() error = %v", err)
	}
	defer result2.Body.Close()
	if result2.CacheStatus != StatusHit {
		t.Errorf("second request status = %q, want HIT", result2.CacheStatus)
	}
	got2, _ := io.ReadAll(result2.Body)
	if !bytes.Equal(got, got2) {
		t.Error("HIT bytes differ from MISS bytes")
	}
	if result2.Digest == "" {
		t.Error("HIT should carry the digest")
	}
}

func TestEngine_NotFoundFallsThroughToNextProxy(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Serve(context.Background(), npmRequest("lodash", "4.17.21"), fetchFrom(map[string]string{
		"npm-mirror": "from the mirror",
	}))
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	defer result.Body.Close()

	if result.Repository.Name != "npm-mirror" {
		t.Errorf("repository = %q, want npm-mirror after primary 404", result.Repository.Name)
	}
	io.Copy(io.Discard, result.Body)
	waitStored(t, result)
}

func TestEngine_UpstreamErrorAborts(t *testing.T) {
	f := newFixture(t)

	fetch := func(ctx context.Context, repo *registry.Repository) (*FetchResponse, error) {
		if repo.Name == "npm-primary" {
			return nil, fmt.Errorf("status 503: %w", registry.ErrUpstreamUnavailable)
		}
		return &FetchResponse{Body: io.NopCloser(strings.NewReader("x"))}, nil
	}

	_, err := f.engine.Serve(context.Background(), npmRequest("a", "1"), fetch)
	if !errors.Is(err, registry.ErrUpstreamUnavailable) {
		t.Errorf("Serve() error = %v, want ErrUpstreamUnavailable (no fallthrough on 5xx)", err)
	}
}

func TestEngine_AllNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Serve(context.Background(), npmRequest("ghost", "0.0.0"), fetchFrom(nil))
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Serve() error = %v, want ErrNotFound", err)
	}
}

func TestEngine_UnknownTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Serve(context.Background(), Request{
		Target: "no-such-target", Format: registry.FormatNPM, Name: "a", Version: "1",
	}, fetchFrom(nil))
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Serve() error = %v, want ErrNotFound", err)
	}
}

func TestEngine_HostedRepoSkippedInUpstreamPass(t *testing.T) {
	f := newFixture(t)

	var fetched []string
	fetch := func(ctx context.Context, repo *registry.Repository) (*FetchResponse, error) {
		fetched = append(fetched, repo.Name)
		return nil, registry.ErrNotFound
	}

	_, err := f.engine.Serve(context.Background(), npmRequest("a", "1"), fetch)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Serve() error = %v", err)
	}
	for _, name := range fetched {
		if name == "npm-hosted" {
			t.Error("hosted repository must not be fetched from upstream")
		}
	}
	if len(fetched) != 2 {
		t.Errorf("fetched %v, want both proxies in priority order", fetched)
	}
}

func TestEngine_HitFromHigherPriorityMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Seed the same artifact into the hosted member directly.
	hosted := f.repos["npm-hosted"]
	if _, err := f.svc.Store(ctx, hosted, "express", "4.18.2", strings.NewReader("hosted copy"), "application/octet-stream", nil, 0); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	result, err := f.engine.Serve(ctx, npmRequest("express", "4.18.2"), fetchFrom(map[string]string{
		"npm-primary": "upstream copy",
	}))
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	defer result.Body.Close()

	if result.CacheStatus != StatusHit || result.Repository.Name != "npm-hosted" {
		t.Errorf("got %s from %s, want HIT from npm-hosted", result.CacheStatus, result.Repository.Name)
	}
	got, _ := io.ReadAll(result.Body)
	if string(got) != "hosted copy" {
		t.Errorf("body = %q", got)
	}
}

func TestEngine_CallerDisconnectStillPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := strings.Repeat("y", 512*1024)
	result, err := f.engine.Serve(ctx, npmRequest("huge", "1.0.0"), fetchFrom(map[string]string{
		"npm-primary": payload,
	}))
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	// Client reads a little and hangs up.
	buf := make([]byte, 1024)
	result.Body.Read(buf)
	result.Body.Close()

	outcome := waitStored(t, result)
	if outcome.Err != nil {
		t.Fatalf("persist after disconnect error = %v", outcome.Err)
	}
	if outcome.Artifact.Size != int64(len(payload)) {
		t.Errorf("persisted %d bytes, want %d", outcome.Artifact.Size, len(payload))
	}

	// A later request is a HIT.
	result2, err := f.engine.Serve(ctx, npmRequest("huge", "1.0.0"), nil)
	if err != nil {
		t.Fatalf("follow-up Serve() error = %v", err)
	}
	defer result2.Body.Close()
	if result2.CacheStatus != StatusHit {
		t.Errorf("follow-up status = %q, want HIT", result2.CacheStatus)
	}
}

func TestEngine_StoreFailureDoesNotBreakCaller(t *testing.T) {
	blobs := &failingPutStore{}
	meta := metastore.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := artifacts.NewService(context.Background(), blobs, meta, logger, nil, "failing", time.Hour)
	t.Cleanup(func() { svc.Close() })
	engine := NewEngine(groups.NewResolver(meta), svc, logger, nil)

	ctx := context.Background()
	repo := &registry.Repository{
		Name: "npm-primary", Format: registry.FormatNPM, Type: registry.TypeProxy,
		UpstreamURL: "https://registry.npmjs.org", Enabled: true,
	}
	if err := meta.UpsertRepository(ctx, repo); err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}

	payload := strings.Repeat("z", 256*1024)
	result, err := engine.Serve(ctx, Request{
		Target: "npm-primary", Format: registry.FormatNPM, Name: "a", Version: "1",
	}, fetchFrom(map[string]string{"npm-primary": payload}))
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	defer result.Body.Close()

	got, err := io.ReadAll(result.Body)
	if err != nil {
		t.Fatalf("caller stream error = %v (store failure must not break the stream)", err)
	}
	if len(got) != len(payload) {
		t.Errorf("caller got %d bytes, want %d", len(got), len(payload))
	}

	outcome := waitStored(t, result)
	if outcome.Err == nil {
		t.Error("persist should have failed")
	}
}

// failingPutStore rejects writes after consuming a little input,
// simulating an object store falling over mid-upload.
type failingPutStore struct{}

func (f *failingPutStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	io.CopyN(io.Discard, r, 1024)
	return errors.New("object store unavailable")
}

func (f *failingPutStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, registry.ErrNotFound
}

func (f *failingPutStore) Head(ctx context.Context, key string) (*blob.ObjectInfo, error) {
	return nil, registry.ErrNotFound
}

func (f *failingPutStore) Delete(ctx context.Context, key string) error { return nil }

func (f *failingPutStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (f *failingPutStore) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	return nil, nil
}

func (f *failingPutStore) HealthCheck(ctx context.Context) error { return nil }
