// Package cache implements the pull-through serve path: cache lookup
// across the resolved candidates, upstream fetch in priority order, and
// the tee that streams to the client while persisting.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/brunocascio/amargo/pkg/artifacts"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
)

// storeTimeout bounds the persist sink on a MISS. It is generous; the
// sink runs detached from the request context and large artifacts
// stream through it at upstream speed.
const storeTimeout = 15 * time.Minute

// FetchFunc opens the upstream body for an artifact from one proxy
// repository. Returning registry.ErrNotFound moves the engine to the
// next candidate; any other error aborts the request.
type FetchFunc func(ctx context.Context, repo *registry.Repository) (*FetchResponse, error)

// Engine coordinates the resolver, artifact service, and upstream
// fetches into HIT/MISS outcomes.
type Engine struct {
	resolver *groups.Resolver
	svc      *artifacts.Service
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEngine creates the cache engine.
func NewEngine(resolver *groups.Resolver, svc *artifacts.Service, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		resolver: resolver,
		svc:      svc,
		logger:   logger.WithField("component", "cache"),
		metrics:  metrics,
	}
}

// Serve resolves req.Target and works through the candidates: first a
// cache lookup pass over all of them, then an upstream pass over the
// proxies. Lookup errors fail open to the next candidate; upstream
// errors other than not-found abort. When no candidate can satisfy the
// request the error is registry.ErrNotFound.
func (e *Engine) Serve(ctx context.Context, req Request, fetch FetchFunc) (*Result, error) {
	candidates, err := e.resolver.Resolve(ctx, req.Target, req.Format)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("target %q has no candidates: %w", req.Target, registry.ErrNotFound)
	}

	if result := e.lookupPass(ctx, req, candidates); result != nil {
		return result, nil
	}

	result, err := e.upstreamPass(ctx, req, candidates, fetch)
	if err != nil {
		return nil, err
	}
	if result == nil {
		if e.metrics != nil {
			e.metrics.CacheNotFoundTotal.WithLabelValues(req.Target).Inc()
		}
		return nil, fmt.Errorf("%s %s/%s: %w", req.Target, req.Name, req.Version, registry.ErrNotFound)
	}
	return result, nil
}

// lookupPass scans the candidates for a cached copy. Any failure on one
// candidate (metadata error, missing blob) logs and moves on; a cache
// problem must never mask an artifact another member can serve.
func (e *Engine) lookupPass(ctx context.Context, req Request, candidates []*registry.Repository) *Result {
	for _, repo := range candidates {
		artifact, err := e.svc.Lookup(ctx, repo.ID, req.Name, req.Version)
		if err != nil {
			if !errors.Is(err, registry.ErrNotFound) {
				e.logger.WithError(err).WithFields(map[string]interface{}{
					"repository": repo.Name,
					"name":       req.Name,
				}).Warn("cache lookup failed, trying next candidate")
			}
			continue
		}

		body, err := e.svc.Open(ctx, artifact)
		if err != nil {
			// Row without bytes. The evictor reconciles it later.
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"repository":  repo.Name,
				"storage_key": artifact.StorageKey,
			}).Warn("cached metadata without blob, trying next candidate")
			continue
		}

		if e.metrics != nil {
			e.metrics.CacheHitsTotal.WithLabelValues(repo.Name).Inc()
		}
		return &Result{
			CacheStatus: StatusHit,
			Repository:  repo,
			Artifact:    artifact,
			Body:        body,
			ContentType: artifact.ContentType,
			Size:        artifact.Size,
			Digest:      artifact.Digest,
		}
	}
	return nil
}

// upstreamPass fetches from the proxy candidates in order. Not-found
// falls through to the next candidate; any other upstream error aborts
// so a flaky mirror surfaces instead of being silently skipped.
func (e *Engine) upstreamPass(ctx context.Context, req Request, candidates []*registry.Repository, fetch FetchFunc) (*Result, error) {
	if fetch == nil {
		return nil, nil
	}
	for _, repo := range candidates {
		if repo.Type != registry.TypeProxy {
			continue
		}

		resp, err := fetch(ctx, repo)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("upstream %s: %w", repo.Name, err)
		}

		if e.metrics != nil {
			e.metrics.CacheMissesTotal.WithLabelValues(repo.Name).Inc()
		}
		return e.teeAndStore(req, repo, resp), nil
	}
	return nil, nil
}

// teeAndStore splits the upstream body into the caller stream and the
// persist sink. The sink runs on a detached context so the client
// hanging up does not abandon the cache write, and a failed write is
// logged without disturbing the client stream.
func (e *Engine) teeAndStore(req Request, repo *registry.Repository, resp *FetchResponse) *Result {
	callerPR, callerPW := io.Pipe()
	storePR, storePW := io.Pipe()
	stored := make(chan StoreOutcome, 1)

	go func() {
		defer resp.Body.Close()
		fanOut(resp.Body, callerPW, storePW)
	}()

	go func() {
		defer close(stored)

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		artifact, err := e.svc.Store(ctx, repo, req.Name, req.Version, storePR, resp.ContentType, req.Metadata, req.TTL)
		if err != nil {
			// Unread bytes must keep draining or the fanout stalls the
			// caller stream.
			storePR.CloseWithError(err)
			if e.metrics != nil {
				e.metrics.CacheStoreFailures.Inc()
			}
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"repository": repo.Name,
				"name":       req.Name,
				"version":    req.Version,
			}).Error("failed to persist artifact")
			stored <- StoreOutcome{Err: err}
			return
		}
		stored <- StoreOutcome{Artifact: artifact}
	}()

	return &Result{
		CacheStatus: StatusMiss,
		Repository:  repo,
		Body:        callerPR,
		ContentType: resp.ContentType,
		Size:        resp.Size,
		Stored:      stored,
	}
}
