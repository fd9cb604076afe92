package metastore

import (
	"context"
	"time"

	"github.com/brunocascio/amargo/pkg/registry"
)

// Store is the metadata index. Absent rows surface as registry.ErrNotFound.
type Store interface {
	// Repositories.

	// UpsertRepository inserts or updates a repository by name and fills
	// in its ID.
	UpsertRepository(ctx context.Context, repo *registry.Repository) error
	GetRepository(ctx context.Context, id int64) (*registry.Repository, error)
	GetRepositoryByName(ctx context.Context, name string) (*registry.Repository, error)
	ListRepositories(ctx context.Context) ([]*registry.Repository, error)

	// Groups.

	// UpsertGroup inserts or updates a group by name, replacing its
	// member set.
	UpsertGroup(ctx context.Context, group *registry.Group) error
	GetGroup(ctx context.Context, name string) (*registry.Group, error)
	// GroupMemberRepositories returns the member repositories of a group
	// ordered by (priority asc, repository name asc).
	GroupMemberRepositories(ctx context.Context, groupName string) ([]*registry.Repository, error)

	// Artifacts and cache entries.

	// PutArtifact atomically upserts the artifact row (keyed on
	// repository/name/version) and its cache entry with the given expiry.
	PutArtifact(ctx context.Context, artifact *registry.Artifact, expiresAt time.Time) error
	GetArtifact(ctx context.Context, repositoryID int64, name, version string) (*registry.Artifact, error)
	GetArtifactByStorageKey(ctx context.Context, storageKey string) (*registry.Artifact, error)
	// DeleteArtifact removes the row and cascades to its cache entry.
	// Deleting an absent artifact is a no-op.
	DeleteArtifact(ctx context.Context, repositoryID int64, name, version string) error
	// DeleteArtifactsByID bulk-deletes artifact rows, cascading to cache
	// entries. Used by the eviction loop.
	DeleteArtifactsByID(ctx context.Context, ids []int64) error
	// TouchArtifact updates last-accessed. Tolerates a concurrent delete
	// (no-ops when the row is gone).
	TouchArtifact(ctx context.Context, repositoryID int64, name, version string, when time.Time) error
	// LeastRecentlyAccessed returns up to limit artifacts ordered by
	// last-accessed ascending, for operational introspection.
	LeastRecentlyAccessed(ctx context.Context, limit int) ([]*registry.Artifact, error)

	// ExpiredCacheEntries returns up to limit cache entries with
	// expires-at before now.
	ExpiredCacheEntries(ctx context.Context, now time.Time, limit int) ([]*registry.CacheEntry, error)
	// DeleteCacheEntry removes a cache entry directly (orphan cleanup).
	DeleteCacheEntry(ctx context.Context, key string) error

	// Download events.

	// InsertDownloadEvent appends an audit row. Callers treat failures as
	// non-fatal.
	InsertDownloadEvent(ctx context.Context, event *registry.DownloadEvent) error

	HealthCheck(ctx context.Context) error
	Close() error
}
