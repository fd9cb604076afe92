// Package postgres implements the metastore.Store contract over
// database/sql. The SQL is written to run on both PostgreSQL (lib/pq) and
// SQLite (mattn/go-sqlite3): $N placeholders, ON CONFLICT upserts, and
// application-supplied timestamps work identically on both drivers, so a
// single-node dev deployment can run without a database server.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver for the dev profile
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brunocascio/amargo/pkg/registry"
)

var tracer = otel.Tracer("amargo/metastore")

// Config holds SQL and Redis connection settings.
type Config struct {
	// Driver is "postgres" or "sqlite3".
	Driver   string
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration

	// RedisURL enables the read-through artifact cache when non-empty.
	RedisURL      string
	RedisPassword string
	RedisDB       int
	// ArtifactCacheTTL bounds staleness of cached artifact rows.
	ArtifactCacheTTL time.Duration
}

// SQLStore implements metastore.Store on a SQL database with an optional
// Redis read-through cache for artifact lookups.
type SQLStore struct {
	db    *sql.DB
	cache *ArtifactCache
}

// New opens the database, configures the pool, applies the schema, and
// connects the optional Redis cache.
func New(cfg Config) (*SQLStore, error) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}

	url := cfg.URL
	if cfg.Driver == "sqlite3" {
		url = sqliteDSN(url)
	}

	db, err := sql.Open(cfg.Driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	var cache *ArtifactCache
	if cfg.RedisURL != "" {
		cache, err = NewArtifactCache(cfg)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect artifact cache: %w", err)
		}
	}

	return &SQLStore{db: db, cache: cache}, nil
}

// sqliteDSN turns on foreign key enforcement for every pooled
// connection. go-sqlite3 opens with foreign_keys off, which would make
// the cache_entries ON DELETE CASCADE a no-op.
func sqliteDSN(url string) string {
	if strings.Contains(url, "_foreign_keys=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&_foreign_keys=on"
	}
	return url + "?_foreign_keys=on"
}

// NewWithDB wraps an existing database handle. Used by tests (sqlmock) and
// by callers that manage the pool themselves. Does not migrate.
func NewWithDB(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// WithCache attaches an artifact cache. Test hook.
func (s *SQLStore) WithCache(cache *ArtifactCache) *SQLStore {
	s.cache = cache
	return s
}

// UpsertRepository implements metastore.Store.
func (s *SQLStore) UpsertRepository(ctx context.Context, repo *registry.Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "MetaStore.UpsertRepository",
		trace.WithAttributes(attribute.String("repository.name", repo.Name)),
	)
	defer span.End()

	var user, pass sql.NullString
	if repo.Credentials != nil && !repo.Credentials.Empty() {
		user = sql.NullString{String: repo.Credentials.Username, Valid: true}
		pass = sql.NullString{String: repo.Credentials.Password, Valid: true}
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO repositories (name, format, type, upstream_url, upstream_user, upstream_pass, cache_ttl_seconds, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (name) DO UPDATE SET
			format = EXCLUDED.format,
			type = EXCLUDED.type,
			upstream_url = EXCLUDED.upstream_url,
			upstream_user = EXCLUDED.upstream_user,
			upstream_pass = EXCLUDED.upstream_pass,
			cache_ttl_seconds = EXCLUDED.cache_ttl_seconds,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		repo.Name, string(repo.Format), string(repo.Type), repo.UpstreamURL,
		user, pass, repo.CacheTTLSeconds, repo.Enabled, now,
	).Scan(&repo.ID, &repo.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}
	repo.UpdatedAt = now
	return nil
}

const repoColumns = `id, name, format, type, upstream_url, upstream_user, upstream_pass, cache_ttl_seconds, enabled, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*registry.Repository, error) {
	var repo registry.Repository
	var format, typ string
	var user, pass sql.NullString
	err := row.Scan(
		&repo.ID, &repo.Name, &format, &typ, &repo.UpstreamURL,
		&user, &pass, &repo.CacheTTLSeconds, &repo.Enabled,
		&repo.CreatedAt, &repo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	repo.Format = registry.Format(format)
	repo.Type = registry.RepoType(typ)
	if user.Valid || pass.Valid {
		repo.Credentials = &registry.Credentials{Username: user.String, Password: pass.String}
	}
	return &repo, nil
}

// GetRepository implements metastore.Store.
func (s *SQLStore) GetRepository(ctx context.Context, id int64) (*registry.Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE id = $1`, id)
	repo, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository %d: %w", id, registry.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// GetRepositoryByName implements metastore.Store.
func (s *SQLStore) GetRepositoryByName(ctx context.Context, name string) (*registry.Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE name = $1`, name)
	repo, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository %q: %w", name, registry.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// ListRepositories implements metastore.Store.
func (s *SQLStore) ListRepositories(ctx context.Context) ([]*registry.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repoColumns+` FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*registry.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// UpsertGroup implements metastore.Store.
func (s *SQLStore) UpsertGroup(ctx context.Context, group *registry.Group) error {
	if group.Name == "" {
		return fmt.Errorf("group name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name, format, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET format = EXCLUDED.format
		RETURNING id, created_at
	`, group.Name, string(group.Format), now).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert group: %w", err)
	}

	// Replace the member set wholesale.
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1`, group.ID); err != nil {
		return fmt.Errorf("failed to clear group members: %w", err)
	}

	for i, m := range group.Members {
		var repoID int64
		var format string
		err := tx.QueryRowContext(ctx, `SELECT id, format FROM repositories WHERE name = $1`, m.RepositoryName).Scan(&repoID, &format)
		if err == sql.ErrNoRows {
			return fmt.Errorf("group %q: member repository %q: %w", group.Name, m.RepositoryName, registry.ErrNotFound)
		} else if err != nil {
			return fmt.Errorf("failed to resolve group member: %w", err)
		}
		if registry.Format(format) != group.Format {
			return fmt.Errorf("group %q: member %q has format %q, want %q", group.Name, m.RepositoryName, format, group.Format)
		}
		group.Members[i].RepositoryID = repoID

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, repository_id, priority) VALUES ($1, $2, $3)
		`, group.ID, repoID, m.Priority); err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group: %w", err)
	}
	return nil
}

// GetGroup implements metastore.Store.
func (s *SQLStore) GetGroup(ctx context.Context, name string) (*registry.Group, error) {
	var group registry.Group
	var format string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, format, created_at FROM groups WHERE name = $1`, name).
		Scan(&group.ID, &group.Name, &format, &group.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %q: %w", name, registry.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	group.Format = registry.Format(format)

	rows, err := s.db.QueryContext(ctx, `
		SELECT gm.repository_id, r.name, gm.priority
		FROM group_members gm
		JOIN repositories r ON r.id = gm.repository_id
		WHERE gm.group_id = $1
		ORDER BY gm.priority, r.name
	`, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m registry.GroupMember
		if err := rows.Scan(&m.RepositoryID, &m.RepositoryName, &m.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		group.Members = append(group.Members, m)
	}
	return &group, rows.Err()
}

// GroupMemberRepositories implements metastore.Store. Ordering by
// (priority asc, name asc) is semantic: the cache engine's passes visit
// candidates in exactly this order.
func (s *SQLStore) GroupMemberRepositories(ctx context.Context, groupName string) ([]*registry.Repository, error) {
	ctx, span := tracer.Start(ctx, "MetaStore.GroupMemberRepositories",
		trace.WithAttributes(attribute.String("group.name", groupName)),
	)
	defer span.End()

	// Distinguish "no such group" from "empty group".
	var groupID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM groups WHERE name = $1`, groupName).Scan(&groupID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %q: %w", groupName, registry.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.format, r.type, r.upstream_url, r.upstream_user, r.upstream_pass, r.cache_ttl_seconds, r.enabled, r.created_at, r.updated_at
		FROM group_members gm
		JOIN repositories r ON r.id = gm.repository_id
		WHERE gm.group_id = $1
		ORDER BY gm.priority, r.name
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group member repositories: %w", err)
	}
	defer rows.Close()

	var repos []*registry.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// PutArtifact implements metastore.Store. The artifact upsert and the
// cache-entry upsert commit in one transaction; a concurrent identical
// MISS loses the race cleanly because the last writer wins on both rows.
func (s *SQLStore) PutArtifact(ctx context.Context, artifact *registry.Artifact, expiresAt time.Time) error {
	ctx, span := tracer.Start(ctx, "MetaStore.PutArtifact",
		trace.WithAttributes(
			attribute.String("artifact.name", artifact.Name),
			attribute.String("artifact.version", artifact.Version),
		),
	)
	defer span.End()

	metadata, err := json.Marshal(artifact.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if artifact.LastAccessedAt.IsZero() {
		artifact.LastAccessedAt = now
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO artifacts (repository_id, name, version, storage_key, size, digest, content_type, metadata, ttl_seconds, created_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (repository_id, name, version) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			size = EXCLUDED.size,
			digest = EXCLUDED.digest,
			content_type = EXCLUDED.content_type,
			metadata = EXCLUDED.metadata,
			ttl_seconds = EXCLUDED.ttl_seconds,
			last_accessed_at = EXCLUDED.last_accessed_at
		RETURNING id, created_at
	`,
		artifact.RepositoryID, artifact.Name, artifact.Version, artifact.StorageKey,
		artifact.Size, artifact.Digest, artifact.ContentType, string(metadata),
		artifact.TTLSeconds, now, artifact.LastAccessedAt,
	).Scan(&artifact.ID, &artifact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert artifact: %w", err)
	}

	key := registry.CacheEntryKey(artifact.RepositoryID, artifact.Name, artifact.Version)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, artifact_id, repository_id, storage_key, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			artifact_id = EXCLUDED.artifact_id,
			storage_key = EXCLUDED.storage_key,
			expires_at = EXCLUDED.expires_at
	`, key, artifact.ID, artifact.RepositoryID, artifact.StorageKey, expiresAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit artifact: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, artifact.RepositoryID, artifact.Name, artifact.Version)
	}
	return nil
}

const artifactColumns = `id, repository_id, name, version, storage_key, size, digest, content_type, metadata, ttl_seconds, created_at, last_accessed_at`

func scanArtifact(row interface{ Scan(...any) error }) (*registry.Artifact, error) {
	var a registry.Artifact
	var metadata string
	err := row.Scan(
		&a.ID, &a.RepositoryID, &a.Name, &a.Version, &a.StorageKey,
		&a.Size, &a.Digest, &a.ContentType, &metadata, &a.TTLSeconds,
		&a.CreatedAt, &a.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact metadata: %w", err)
		}
	}
	return &a, nil
}

// GetArtifact implements metastore.Store, consulting the Redis
// read-through cache first when configured.
func (s *SQLStore) GetArtifact(ctx context.Context, repositoryID int64, name, version string) (*registry.Artifact, error) {
	if s.cache != nil {
		if artifact, err := s.cache.Get(ctx, repositoryID, name, version); err == nil && artifact != nil {
			return artifact, nil
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE repository_id = $1 AND name = $2 AND version = $3
	`, repositoryID, name, version)
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact %s@%s: %w", name, version, registry.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, artifact)
	}
	return artifact, nil
}

// GetArtifactByStorageKey implements metastore.Store.
func (s *SQLStore) GetArtifactByStorageKey(ctx context.Context, storageKey string) (*registry.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts WHERE storage_key = $1
	`, storageKey)
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact with storage key %q: %w", storageKey, registry.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get artifact by storage key: %w", err)
	}
	return artifact, nil
}

// DeleteArtifact implements metastore.Store.
func (s *SQLStore) DeleteArtifact(ctx context.Context, repositoryID int64, name, version string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM artifacts WHERE repository_id = $1 AND name = $2 AND version = $3
	`, repositoryID, name, version)
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, repositoryID, name, version)
	}
	return nil
}

// DeleteArtifactsByID implements metastore.Store. The Redis entries for
// the deleted rows are dropped too, so an evicted artifact does not stay
// visible through the read-through cache until its TTL.
func (s *SQLStore) DeleteArtifactsByID(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	in := strings.Join(placeholders, ", ")

	// Capture the identities before the rows go away; the cache is keyed
	// by (repository, name, version), not by row id.
	type identity struct {
		repoID        int64
		name, version string
	}
	var stale []identity
	if s.cache != nil {
		rows, err := s.db.QueryContext(ctx, `SELECT repository_id, name, version FROM artifacts WHERE id IN (`+in+`)`, args...)
		if err != nil {
			return fmt.Errorf("failed to list artifacts for deletion: %w", err)
		}
		for rows.Next() {
			var id identity
			if err := rows.Scan(&id.repoID, &id.name, &id.version); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan artifact identity: %w", err)
			}
			stale = append(stale, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to list artifacts for deletion: %w", err)
		}
		rows.Close()
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("failed to bulk-delete artifacts: %w", err)
	}

	for _, id := range stale {
		s.cache.Invalidate(ctx, id.repoID, id.name, id.version)
	}
	return nil
}

// TouchArtifact implements metastore.Store. A concurrent delete makes
// this a no-op, which is fine: the update is best-effort.
func (s *SQLStore) TouchArtifact(ctx context.Context, repositoryID int64, name, version string, when time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET last_accessed_at = $1
		WHERE repository_id = $2 AND name = $3 AND version = $4
	`, when.UTC(), repositoryID, name, version)
	if err != nil {
		return fmt.Errorf("failed to touch artifact: %w", err)
	}
	return nil
}

// LeastRecentlyAccessed implements metastore.Store.
func (s *SQLStore) LeastRecentlyAccessed(ctx context.Context, limit int) ([]*registry.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts ORDER BY last_accessed_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*registry.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// ExpiredCacheEntries implements metastore.Store.
func (s *SQLStore) ExpiredCacheEntries(ctx context.Context, now time.Time, limit int) ([]*registry.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, repository_id, storage_key, expires_at
		FROM cache_entries
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*registry.CacheEntry
	for rows.Next() {
		var e registry.CacheEntry
		if err := rows.Scan(&e.Key, &e.RepositoryID, &e.StorageKey, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteCacheEntry implements metastore.Store.
func (s *SQLStore) DeleteCacheEntry(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// InsertDownloadEvent implements metastore.Store.
func (s *SQLStore) InsertDownloadEvent(ctx context.Context, event *registry.DownloadEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_events (id, repository_id, name, version, client_ip, user_agent, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.RepositoryID, event.Name, event.Version, event.ClientIP, event.UserAgent, event.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert download event: %w", err)
	}
	return nil
}

// HealthCheck implements metastore.Store.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

// Close implements metastore.Store.
func (s *SQLStore) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.db.Close()
}
