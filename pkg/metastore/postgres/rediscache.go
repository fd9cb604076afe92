package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/brunocascio/amargo/pkg/registry"
)

// ArtifactCache is a Redis read-through cache for artifact rows, keeping
// the HIT path off the database for hot artifacts. Entries are bounded by
// a TTL so a replaced artifact is never served stale for long; writers
// also invalidate explicitly.
type ArtifactCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewArtifactCache connects to Redis and verifies the connection.
func NewArtifactCache(cfg Config) (*ArtifactCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.ArtifactCacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &ArtifactCache{client: client, ttl: ttl}, nil
}

// NewArtifactCacheWithClient wraps an existing client. Test hook
// (miniredis).
func NewArtifactCacheWithClient(client *redis.Client, ttl time.Duration) *ArtifactCache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &ArtifactCache{client: client, ttl: ttl}
}

func cacheKey(repositoryID int64, name, version string) string {
	return fmt.Sprintf("artifact:%d:%s:%s", repositoryID, name, version)
}

// Get returns the cached artifact or (nil, nil) on miss.
func (c *ArtifactCache) Get(ctx context.Context, repositoryID int64, name, version string) (*registry.Artifact, error) {
	data, err := c.client.Get(ctx, cacheKey(repositoryID, name, version)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var artifact registry.Artifact
	if err := json.Unmarshal([]byte(data), &artifact); err != nil {
		// Corrupt entry; drop it.
		c.client.Del(ctx, cacheKey(repositoryID, name, version))
		return nil, fmt.Errorf("failed to unmarshal cached artifact: %w", err)
	}
	return &artifact, nil
}

// Set stores an artifact row. Errors are the caller's to ignore; the
// cache is advisory.
func (c *ArtifactCache) Set(ctx context.Context, artifact *registry.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return c.client.Set(ctx, cacheKey(artifact.RepositoryID, artifact.Name, artifact.Version), data, c.ttl).Err()
}

// Invalidate drops the cached row for an artifact identity.
func (c *ArtifactCache) Invalidate(ctx context.Context, repositoryID int64, name, version string) error {
	return c.client.Del(ctx, cacheKey(repositoryID, name, version)).Err()
}

// Close releases the Redis connection.
func (c *ArtifactCache) Close() error {
	return c.client.Close()
}
