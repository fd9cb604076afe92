// Package evictor removes expired cache entries: blob bytes first, then
// metadata rows, so a failure leaves a retriable row rather than a
// dangling blob reference.
package evictor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brunocascio/amargo/pkg/blob"
	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
)

const (
	// DefaultSchedule runs the sweep hourly.
	DefaultSchedule = "@every 1h"
	// DefaultBatchSize bounds one sweep iteration.
	DefaultBatchSize = 100

	deleteConcurrency = 8
	passTimeout       = 10 * time.Minute
)

// Evictor owns the TTL sweep.
type Evictor struct {
	meta      metastore.Store
	blobs     blob.Store
	metrics   *observability.Metrics
	log       *logrus.Entry
	schedule  string
	batchSize int
	cron      *cron.Cron
}

// Option configures the evictor.
type Option func(*Evictor)

// WithSchedule overrides the cron schedule.
func WithSchedule(schedule string) Option {
	return func(e *Evictor) { e.schedule = schedule }
}

// WithBatchSize overrides the per-iteration batch size.
func WithBatchSize(n int) Option {
	return func(e *Evictor) { e.batchSize = n }
}

// New creates an evictor. metrics may be nil.
func New(meta metastore.Store, blobs blob.Store, metrics *observability.Metrics, opts ...Option) *Evictor {
	e := &Evictor{
		meta:      meta,
		blobs:     blobs,
		metrics:   metrics,
		log:       logrus.WithField("component", "evictor"),
		schedule:  DefaultSchedule,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs one sweep immediately, then on the schedule. The startup
// sweep clears the backlog accumulated while the process was down.
func (e *Evictor) Start() error {
	e.sweep()

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(e.schedule, e.sweep); err != nil {
		return fmt.Errorf("schedule eviction: %w", err)
	}
	e.cron.Start()
	e.log.WithField("schedule", e.schedule).Info("eviction loop started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (e *Evictor) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

func (e *Evictor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	evicted, err := e.RunOnce(ctx)
	if err != nil {
		e.log.WithError(err).Error("eviction sweep failed")
		return
	}
	if evicted > 0 {
		e.log.WithField("evicted", evicted).Info("eviction sweep complete")
	}
}

// RunOnce sweeps expired entries in batches until none remain or ctx
// expires. Returns the number of artifacts evicted.
func (e *Evictor) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		evicted, fetched, err := e.evictBatch(ctx, time.Now())
		total += evicted
		if err != nil {
			return total, err
		}
		// A full batch that made no progress is all failures; stop
		// instead of spinning on it, the next sweep retries.
		if fetched < e.batchSize || evicted == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// evictBatch processes one batch of expired entries. Blob deletes run
// concurrently; an entry whose blob delete fails keeps its metadata so
// the next sweep retries it.
func (e *Evictor) evictBatch(ctx context.Context, now time.Time) (int, int, error) {
	entries, err := e.meta.ExpiredCacheEntries(ctx, now, e.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list expired entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	deletable := make(chan int64, len(entries))
	orphans := make(chan struct{}, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)

	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			id, err := e.evictEntry(gctx, entry)
			if err != nil {
				e.log.WithError(err).WithField("key", entry.Key).Warn("failed to evict entry, will retry")
				return nil
			}
			if id > 0 {
				deletable <- id
			} else {
				orphans <- struct{}{}
			}
			return nil
		})
	}
	g.Wait()
	close(deletable)
	close(orphans)

	ids := make([]int64, 0, len(entries))
	for id := range deletable {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		if err := e.meta.DeleteArtifactsByID(ctx, ids); err != nil {
			return 0, len(entries), fmt.Errorf("delete artifact rows: %w", err)
		}
		if e.metrics != nil {
			e.metrics.CacheEvictionsTotal.Add(float64(len(ids)))
		}
	}
	return len(ids) + len(orphans), len(entries), nil
}

// evictEntry removes one entry's blob and returns the artifact ID to
// bulk-delete, or 0 when only orphan cleanup was needed.
func (e *Evictor) evictEntry(ctx context.Context, entry *registry.CacheEntry) (int64, error) {
	artifact, err := e.lookupArtifact(ctx, entry)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Entry without an artifact row. Drop it directly.
			if err := e.meta.DeleteCacheEntry(ctx, entry.Key); err != nil {
				return 0, fmt.Errorf("delete orphan entry: %w", err)
			}
			return 0, nil
		}
		return 0, err
	}

	// Delete on an already-absent blob is a no-op, so a partially
	// evicted artifact converges.
	if err := e.blobs.Delete(ctx, artifact.StorageKey); err != nil {
		return 0, fmt.Errorf("delete blob %s: %w", artifact.StorageKey, err)
	}
	return artifact.ID, nil
}

func (e *Evictor) lookupArtifact(ctx context.Context, entry *registry.CacheEntry) (*registry.Artifact, error) {
	if entry.StorageKey != "" {
		return e.meta.GetArtifactByStorageKey(ctx, entry.StorageKey)
	}

	// Fall back to parsing the "<repo-id>:<name>:<version>" key.
	parts := strings.SplitN(entry.Key, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed entry key %q: %w", entry.Key, registry.ErrNotFound)
	}
	repoID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed entry key %q: %w", entry.Key, registry.ErrNotFound)
	}
	return e.meta.GetArtifact(ctx, repoID, parts[1], parts[2])
}
