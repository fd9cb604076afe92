// Command amargo runs the pull-through artifact cache: a single binary
// serving npm, PyPI, Docker, Go module, Maven, and NuGet traffic in
// front of configured upstream registries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brunocascio/amargo/pkg/api"
	"github.com/brunocascio/amargo/pkg/artifacts"
	"github.com/brunocascio/amargo/pkg/blob"
	s3blob "github.com/brunocascio/amargo/pkg/blob/s3"
	"github.com/brunocascio/amargo/pkg/cache"
	"github.com/brunocascio/amargo/pkg/config"
	"github.com/brunocascio/amargo/pkg/evictor"
	"github.com/brunocascio/amargo/pkg/formats"
	"github.com/brunocascio/amargo/pkg/formats/docker"
	"github.com/brunocascio/amargo/pkg/formats/gomod"
	"github.com/brunocascio/amargo/pkg/formats/maven"
	"github.com/brunocascio/amargo/pkg/formats/npm"
	"github.com/brunocascio/amargo/pkg/formats/nuget"
	"github.com/brunocascio/amargo/pkg/formats/pypi"
	"github.com/brunocascio/amargo/pkg/groups"
	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/metastore/postgres"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/upstream"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "amargo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting amargo")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Observability.
	promRegistry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("init opentelemetry: %w", err)
	}

	// Blob store.
	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	// Metadata store.
	meta, err := newMetaStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init metadata store: %w", err)
	}
	defer meta.Close()

	// Declarative repositories and groups.
	var watcher *config.Watcher
	if cfg.DefinitionsFile != "" {
		defs, err := config.LoadDefinitions(cfg.DefinitionsFile)
		if err != nil {
			return err
		}
		if err := defs.Apply(ctx, meta); err != nil {
			return fmt.Errorf("apply definitions: %w", err)
		}
		logger.WithFields(map[string]interface{}{
			"repositories": len(defs.Repositories),
			"groups":       len(defs.Groups),
		}).Info("definitions applied")

		watcher, err = config.NewWatcher(cfg.DefinitionsFile, meta, logger)
		if err != nil {
			return fmt.Errorf("watch definitions: %w", err)
		}
		defer watcher.Close()
	}

	// Core services.
	svc := artifacts.NewService(ctx, blobs, meta, logger, metrics, cfg.Storage.BlobBackend, cfg.Cache.DefaultTTL)
	defer svc.Close()

	resolver := groups.NewResolver(meta)
	engine := cache.NewEngine(resolver, svc, logger, metrics)
	client := upstream.NewClient(cfg.Cache.UpstreamTimeout, logger, metrics)

	deps := formats.Deps{
		Engine:    engine,
		Artifacts: svc,
		Client:    client,
		Logger:    logger,
	}

	// Eviction loop.
	ev := evictor.New(meta, blobs, metrics,
		evictor.WithSchedule(cfg.Cache.EvictionSchedule),
		evictor.WithBatchSize(cfg.Cache.EvictionBatchSize),
	)
	if err := ev.Start(); err != nil {
		return fmt.Errorf("start evictor: %w", err)
	}
	defer ev.Stop()

	// HTTP surface.
	health := observability.NewHealthChecker(meta, blobs, version)
	server := api.NewServer(meta, logger, metrics, health, promRegistry)
	server.RegisterRoutes(npm.NewHandlers(cfg.Targets.NPM, deps, resolver))
	server.RegisterRoutes(pypi.NewHandlers(cfg.Targets.PyPI, deps, resolver))
	server.RegisterRoutes(docker.NewHandlers(cfg.Targets.Docker, deps))
	server.RegisterRoutes(gomod.NewHandlers(cfg.Targets.Go, deps, resolver))
	server.RegisterRoutes(maven.NewHandlers(cfg.Targets.Maven, deps, resolver))
	server.RegisterRoutes(nuget.NewHandlers(cfg.Targets.NuGet, deps, resolver))

	errCh := make(chan error, 2)
	if err := server.Start(cfg.Server, errCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown incomplete")
	}
	if err := observability.ShutdownOTel(shutdownCtx, otelProviders, logger); err != nil {
		logger.WithError(err).Warn("opentelemetry shutdown incomplete")
	}

	logger.Info("amargo stopped")
	return nil
}

// newBlobStore builds the configured blob backend.
func newBlobStore(ctx context.Context, cfg config.StorageConfig) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return s3blob.New(ctx, s3blob.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return blob.NewFileSystemStore(cfg.FilesystemRoot)
	}
}

// newMetaStore builds the configured metadata backend.
func newMetaStore(cfg config.StorageConfig) (metastore.Store, error) {
	switch cfg.MetadataBackend {
	case "postgres":
		return postgres.New(postgres.Config{
			Driver:           "postgres",
			URL:              cfg.PostgresURL,
			MaxConns:         cfg.PostgresMaxConns,
			RedisURL:         cfg.RedisURL,
			RedisPassword:    cfg.RedisPassword,
			RedisDB:          cfg.RedisDB,
			ArtifactCacheTTL: cfg.RedisTTL,
		})
	case "sqlite":
		return postgres.New(postgres.Config{
			Driver:           "sqlite3",
			URL:              cfg.SQLitePath,
			RedisURL:         cfg.RedisURL,
			RedisPassword:    cfg.RedisPassword,
			RedisDB:          cfg.RedisDB,
			ArtifactCacheTTL: cfg.RedisTTL,
		})
	default:
		return metastore.NewMemoryStore(), nil
	}
}
