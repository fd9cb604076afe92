package metastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brunocascio/amargo/pkg/registry"
)

// MemoryStore is a mutex-guarded in-memory Store for tests and the dev
// profile.
type MemoryStore struct {
	mu sync.RWMutex

	nextRepoID     int64
	nextGroupID    int64
	nextArtifactID int64

	repos       map[int64]*registry.Repository
	reposByName map[string]int64
	groups      map[string]*registry.Group
	artifacts   map[string]*registry.Artifact // keyed by repoID:name:version
	entries     map[string]*registry.CacheEntry
	events      []*registry.DownloadEvent
}

// NewMemoryStore creates an empty in-memory metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repos:       make(map[int64]*registry.Repository),
		reposByName: make(map[string]int64),
		groups:      make(map[string]*registry.Group),
		artifacts:   make(map[string]*registry.Artifact),
		entries:     make(map[string]*registry.CacheEntry),
	}
}

func artifactKey(repositoryID int64, name, version string) string {
	return registry.CacheEntryKey(repositoryID, name, version)
}

// UpsertRepository implements Store.UpsertRepository.
func (s *MemoryStore) UpsertRepository(ctx context.Context, repo *registry.Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if id, ok := s.reposByName[repo.Name]; ok {
		repo.ID = id
		repo.CreatedAt = s.repos[id].CreatedAt
	} else {
		s.nextRepoID++
		repo.ID = s.nextRepoID
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	cp := *repo
	s.repos[repo.ID] = &cp
	s.reposByName[repo.Name] = repo.ID
	return nil
}

// GetRepository implements Store.GetRepository.
func (s *MemoryStore) GetRepository(ctx context.Context, id int64) (*registry.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo, ok := s.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %d: %w", id, registry.ErrNotFound)
	}
	cp := *repo
	return &cp, nil
}

// GetRepositoryByName implements Store.GetRepositoryByName.
func (s *MemoryStore) GetRepositoryByName(ctx context.Context, name string) (*registry.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.reposByName[name]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", name, registry.ErrNotFound)
	}
	cp := *s.repos[id]
	return &cp, nil
}

// ListRepositories implements Store.ListRepositories.
func (s *MemoryStore) ListRepositories(ctx context.Context) ([]*registry.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repos := make([]*registry.Repository, 0, len(s.repos))
	for _, repo := range s.repos {
		cp := *repo
		repos = append(repos, &cp)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

// UpsertGroup implements Store.UpsertGroup.
func (s *MemoryStore) UpsertGroup(ctx context.Context, group *registry.Group) error {
	if group.Name == "" {
		return fmt.Errorf("group name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Member repositories must exist and share the group's format.
	for i, m := range group.Members {
		id, ok := s.reposByName[m.RepositoryName]
		if !ok {
			return fmt.Errorf("group %q: member repository %q: %w", group.Name, m.RepositoryName, registry.ErrNotFound)
		}
		repo := s.repos[id]
		if repo.Format != group.Format {
			return fmt.Errorf("group %q: member %q has format %q, want %q", group.Name, m.RepositoryName, repo.Format, group.Format)
		}
		group.Members[i].RepositoryID = id
	}

	if existing, ok := s.groups[group.Name]; ok {
		group.ID = existing.ID
		group.CreatedAt = existing.CreatedAt
	} else {
		s.nextGroupID++
		group.ID = s.nextGroupID
		group.CreatedAt = time.Now()
	}

	cp := *group
	cp.Members = append([]registry.GroupMember(nil), group.Members...)
	s.groups[group.Name] = &cp
	return nil
}

// GetGroup implements Store.GetGroup.
func (s *MemoryStore) GetGroup(ctx context.Context, name string) (*registry.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", name, registry.ErrNotFound)
	}
	cp := *group
	cp.Members = append([]registry.GroupMember(nil), group.Members...)
	return &cp, nil
}

// GroupMemberRepositories implements Store.GroupMemberRepositories.
func (s *MemoryStore) GroupMemberRepositories(ctx context.Context, groupName string) ([]*registry.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", groupName, registry.ErrNotFound)
	}

	members := append([]registry.GroupMember(nil), group.Members...)
	sort.Slice(members, func(i, j int) bool {
		if members[i].Priority != members[j].Priority {
			return members[i].Priority < members[j].Priority
		}
		return members[i].RepositoryName < members[j].RepositoryName
	})

	repos := make([]*registry.Repository, 0, len(members))
	for _, m := range members {
		if repo, ok := s.repos[m.RepositoryID]; ok {
			cp := *repo
			repos = append(repos, &cp)
		}
	}
	return repos, nil
}

// PutArtifact implements Store.PutArtifact.
func (s *MemoryStore) PutArtifact(ctx context.Context, artifact *registry.Artifact, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repos[artifact.RepositoryID]; !ok {
		return fmt.Errorf("repository %d: %w", artifact.RepositoryID, registry.ErrNotFound)
	}

	key := artifactKey(artifact.RepositoryID, artifact.Name, artifact.Version)
	now := time.Now()
	if existing, ok := s.artifacts[key]; ok {
		artifact.ID = existing.ID
		artifact.CreatedAt = existing.CreatedAt
	} else {
		s.nextArtifactID++
		artifact.ID = s.nextArtifactID
		artifact.CreatedAt = now
	}
	if artifact.LastAccessedAt.IsZero() {
		artifact.LastAccessedAt = now
	}

	cp := *artifact
	s.artifacts[key] = &cp
	s.entries[key] = &registry.CacheEntry{
		Key:          key,
		RepositoryID: artifact.RepositoryID,
		StorageKey:   artifact.StorageKey,
		ExpiresAt:    expiresAt,
	}
	return nil
}

// GetArtifact implements Store.GetArtifact.
func (s *MemoryStore) GetArtifact(ctx context.Context, repositoryID int64, name, version string) (*registry.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.artifacts[artifactKey(repositoryID, name, version)]
	if !ok {
		return nil, fmt.Errorf("artifact %s@%s: %w", name, version, registry.ErrNotFound)
	}
	cp := *artifact
	return &cp, nil
}

// GetArtifactByStorageKey implements Store.GetArtifactByStorageKey.
func (s *MemoryStore) GetArtifactByStorageKey(ctx context.Context, storageKey string) (*registry.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, artifact := range s.artifacts {
		if artifact.StorageKey == storageKey {
			cp := *artifact
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("artifact with storage key %q: %w", storageKey, registry.ErrNotFound)
}

// DeleteArtifact implements Store.DeleteArtifact.
func (s *MemoryStore) DeleteArtifact(ctx context.Context, repositoryID int64, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := artifactKey(repositoryID, name, version)
	delete(s.artifacts, key)
	delete(s.entries, key)
	return nil
}

// DeleteArtifactsByID implements Store.DeleteArtifactsByID.
func (s *MemoryStore) DeleteArtifactsByID(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for key, artifact := range s.artifacts {
		if _, ok := idSet[artifact.ID]; ok {
			delete(s.artifacts, key)
			delete(s.entries, key)
		}
	}
	return nil
}

// TouchArtifact implements Store.TouchArtifact.
func (s *MemoryStore) TouchArtifact(ctx context.Context, repositoryID int64, name, version string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if artifact, ok := s.artifacts[artifactKey(repositoryID, name, version)]; ok {
		artifact.LastAccessedAt = when
	}
	return nil
}

// LeastRecentlyAccessed implements Store.LeastRecentlyAccessed.
func (s *MemoryStore) LeastRecentlyAccessed(ctx context.Context, limit int) ([]*registry.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifacts := make([]*registry.Artifact, 0, len(s.artifacts))
	for _, artifact := range s.artifacts {
		cp := *artifact
		artifacts = append(artifacts, &cp)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].LastAccessedAt.Before(artifacts[j].LastAccessedAt)
	})
	if limit > 0 && len(artifacts) > limit {
		artifacts = artifacts[:limit]
	}
	return artifacts, nil
}

// ExpiredCacheEntries implements Store.ExpiredCacheEntries.
func (s *MemoryStore) ExpiredCacheEntries(ctx context.Context, now time.Time, limit int) ([]*registry.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*registry.CacheEntry
	for _, entry := range s.entries {
		if entry.ExpiresAt.Before(now) {
			cp := *entry
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// DeleteCacheEntry implements Store.DeleteCacheEntry.
func (s *MemoryStore) DeleteCacheEntry(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// InsertDownloadEvent implements Store.InsertDownloadEvent.
func (s *MemoryStore) InsertDownloadEvent(ctx context.Context, event *registry.DownloadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// DownloadEvents returns a snapshot of recorded events, oldest first.
// Test helper; the serving path never reads events.
func (s *MemoryStore) DownloadEvents() []*registry.DownloadEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*registry.DownloadEvent(nil), s.events...)
}

// DeleteArtifactRowOnly removes an artifact row without cascading to
// its cache entry, leaving an orphan. Test helper for eviction
// reconciliation paths.
func (s *MemoryStore) DeleteArtifactRowOnly(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, artifact := range s.artifacts {
		if artifact.ID == id {
			delete(s.artifacts, key)
			return nil
		}
	}
	return fmt.Errorf("artifact %d: %w", id, registry.ErrNotFound)
}

// CacheEntry returns the cache entry for key, if any. Test helper.
func (s *MemoryStore) CacheEntry(key string) (*registry.CacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// HealthCheck implements Store.HealthCheck.
func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

// Close implements Store.Close.
func (s *MemoryStore) Close() error { return nil }
