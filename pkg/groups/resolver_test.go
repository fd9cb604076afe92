package groups

import (
	"context"
	"errors"
	"testing"

	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/registry"
)

func seedStore(t *testing.T) *metastore.MemoryStore {
	t.Helper()
	meta := metastore.NewMemoryStore()
	ctx := context.Background()

	repos := []*registry.Repository{
		{Name: "npm-hosted", Format: registry.FormatNPM, Type: registry.TypeHosted, Enabled: true},
		{Name: "npm-proxy", Format: registry.FormatNPM, Type: registry.TypeProxy, UpstreamURL: "https://registry.npmjs.org", Enabled: true},
		{Name: "npm-disabled", Format: registry.FormatNPM, Type: registry.TypeProxy, UpstreamURL: "https://mirror.example", Enabled: false},
	}
	for _, repo := range repos {
		if err := meta.UpsertRepository(ctx, repo); err != nil {
			t.Fatalf("UpsertRepository(%s) error = %v", repo.Name, err)
		}
	}

	group := &registry.Group{
		Name:   "npm",
		Format: registry.FormatNPM,
		Members: []registry.GroupMember{
			{RepositoryName: "npm-proxy", Priority: 1},
			{RepositoryName: "npm-hosted", Priority: 0},
			{RepositoryName: "npm-disabled", Priority: 2},
		},
	}
	if err := meta.UpsertGroup(ctx, group); err != nil {
		t.Fatalf("UpsertGroup() error = %v", err)
	}
	return meta
}

func TestResolver_GroupOrderingAndFiltering(t *testing.T) {
	resolver := NewResolver(seedStore(t))

	repos, err := resolver.Resolve(context.Background(), "npm", registry.FormatNPM)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Disabled members are dropped, order is by priority then name.
	want := []string{"npm-hosted", "npm-proxy"}
	if len(repos) != len(want) {
		t.Fatalf("got %d repos, want %d", len(repos), len(want))
	}
	for i := range want {
		if repos[i].Name != want[i] {
			t.Errorf("repos[%d] = %q, want %q", i, repos[i].Name, want[i])
		}
	}
}

func TestResolver_SingleRepository(t *testing.T) {
	resolver := NewResolver(seedStore(t))

	repos, err := resolver.Resolve(context.Background(), "npm-proxy", registry.FormatNPM)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(repos) != 1 || repos[0].Name != "npm-proxy" {
		t.Errorf("Resolve() = %v", repos)
	}
}

func TestResolver_UnknownTarget(t *testing.T) {
	resolver := NewResolver(seedStore(t))

	_, err := resolver.Resolve(context.Background(), "nope", registry.FormatNPM)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestResolver_FormatMismatch(t *testing.T) {
	resolver := NewResolver(seedStore(t))

	// A npm group requested through the PyPI adapter is not served.
	_, err := resolver.Resolve(context.Background(), "npm", registry.FormatPyPI)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}

	// A single repository of the wrong format filters to empty.
	repos, err := resolver.Resolve(context.Background(), "npm-proxy", registry.FormatPyPI)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("Resolve() = %v, want empty", repos)
	}
}

func TestResolver_DisabledRepository(t *testing.T) {
	resolver := NewResolver(seedStore(t))

	repos, err := resolver.Resolve(context.Background(), "npm-disabled", registry.FormatNPM)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("disabled repository should filter out, got %v", repos)
	}
}
