// Package artifacts implements the storage-facing artifact service. It
// couples the blob store with the metadata index so the two stay
// consistent: bytes land in the object store, then the metadata row and
// cache entry are written in one transaction.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/brunocascio/amargo/pkg/async"
	"github.com/brunocascio/amargo/pkg/blob"
	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
)

// DefaultCacheTTL applies when neither the artifact nor its repository
// carries an explicit TTL.
const DefaultCacheTTL = 24 * time.Hour

const (
	touchWorkers = 4
	touchTimeout = 10 * time.Second
	eventTimeout = 5 * time.Second
)

// Service stores, opens, and deletes artifacts, keeping blob bytes and
// metadata rows in step.
type Service struct {
	blobs      blob.Store
	meta       metastore.Store
	logger     *observability.Logger
	metrics    *observability.Metrics
	touchPool  *async.WorkerPool
	defaultTTL time.Duration
	backend    string
}

// NewService creates the artifact service. backend is the label used on
// storage metrics ("s3", "filesystem"). ctx bounds the lifetime of the
// background touch pool.
func NewService(ctx context.Context, blobs blob.Store, meta metastore.Store, logger *observability.Logger, metrics *observability.Metrics, backend string, defaultTTL time.Duration) *Service {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}

	var opts []async.PoolOption
	if metrics != nil {
		opts = append(opts, async.WithDropCallback(func() {
			metrics.DroppedTasksTotal.WithLabelValues("touch").Inc()
		}))
	}

	return &Service{
		blobs:      blobs,
		meta:       meta,
		logger:     logger.WithField("component", "artifacts"),
		metrics:    metrics,
		touchPool:  async.NewWorkerPool(ctx, logger, touchWorkers, "touch artifacts", touchTimeout, opts...),
		defaultTTL: defaultTTL,
		backend:    backend,
	}
}

// Close drains the background touch pool.
func (s *Service) Close() error {
	return s.touchPool.Shutdown(5 * time.Second)
}

// countingReader tracks bytes read so the size is known after a
// streaming Put without buffering the body.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Store streams body into the blob store under the artifact's
// deterministic key, computing the SHA-256 digest and size on the way
// through, then writes the metadata row and cache entry. ttl overrides
// the repository TTL when positive.
func (s *Service) Store(ctx context.Context, repo *registry.Repository, name, version string, body io.Reader, contentType string, metadata map[string]string, ttl time.Duration) (*registry.Artifact, error) {
	key := StorageKey(repo.Name, name, version)

	hash := sha256.New()
	counted := &countingReader{r: io.TeeReader(body, hash)}

	start := time.Now()
	err := s.blobs.Put(ctx, key, counted, contentType)
	if s.metrics != nil {
		s.metrics.ObserveStorageOperation("put", s.backend, err, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("store blob %s: %w", key, err)
	}

	if ttl <= 0 {
		ttl = repo.CacheTTL(s.defaultTTL)
	}

	now := time.Now()
	artifact := &registry.Artifact{
		RepositoryID:   repo.ID,
		Name:           name,
		Version:        version,
		StorageKey:     key,
		Size:           counted.n,
		Digest:         hex.EncodeToString(hash.Sum(nil)),
		ContentType:    contentType,
		Metadata:       metadata,
		TTLSeconds:     int64(ttl / time.Second),
		LastAccessedAt: now,
	}

	if err := s.meta.PutArtifact(ctx, artifact, now.Add(ttl)); err != nil {
		// The blob is orphaned until the next store or eviction sweep.
		return nil, fmt.Errorf("index artifact %s: %w", key, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"repository": repo.Name,
		"name":       name,
		"version":    version,
		"size":       artifact.Size,
		"digest":     artifact.Digest,
	}).Debug("artifact stored")

	return artifact, nil
}

// Lookup returns the artifact row for (repository, name, version).
func (s *Service) Lookup(ctx context.Context, repositoryID int64, name, version string) (*registry.Artifact, error) {
	return s.meta.GetArtifact(ctx, repositoryID, name, version)
}

// Open returns a reader over the artifact's bytes and refreshes its
// last-accessed timestamp in the background. A full queue drops the
// touch rather than delaying the response.
func (s *Service) Open(ctx context.Context, artifact *registry.Artifact) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.blobs.Get(ctx, artifact.StorageKey)
	if s.metrics != nil {
		s.metrics.ObserveStorageOperation("get", s.backend, err, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", artifact.StorageKey, err)
	}

	repoID, name, version := artifact.RepositoryID, artifact.Name, artifact.Version
	s.touchPool.TrySubmit(func(ctx context.Context) error {
		return s.meta.TouchArtifact(ctx, repoID, name, version, time.Now())
	})

	return rc, nil
}

// Exists reports whether the artifact's bytes are present in the blob
// store. A metadata row whose blob is gone is treated as absent.
func (s *Service) Exists(ctx context.Context, artifact *registry.Artifact) (bool, error) {
	return s.blobs.Exists(ctx, artifact.StorageKey)
}

// Delete removes the artifact's bytes and then its metadata row. Blob
// deletion failure leaves the row in place so the evictor retries later.
func (s *Service) Delete(ctx context.Context, artifact *registry.Artifact) error {
	start := time.Now()
	err := s.blobs.Delete(ctx, artifact.StorageKey)
	if s.metrics != nil {
		s.metrics.ObserveStorageOperation("delete", s.backend, err, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", artifact.StorageKey, err)
	}

	if err := s.meta.DeleteArtifact(ctx, artifact.RepositoryID, artifact.Name, artifact.Version); err != nil {
		return fmt.Errorf("delete artifact row %s/%s: %w", artifact.Name, artifact.Version, err)
	}
	return nil
}

// RecordDownload appends a download event off the request path. Failures
// are logged and dropped; audit rows never block or fail a download.
func (s *Service) RecordDownload(repositoryID int64, name, version, clientIP, userAgent string) {
	event := &registry.DownloadEvent{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		Name:         name,
		Version:      version,
		ClientIP:     clientIP,
		UserAgent:    userAgent,
		OccurredAt:   time.Now(),
	}
	async.SafeGo(s.logger, eventTimeout, "record download", func(ctx context.Context) error {
		return s.meta.InsertDownloadEvent(ctx, event)
	})
}
