// Package api assembles the HTTP surface: the protocol adapters, the
// introspection endpoints, and the separate health/metrics listener.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brunocascio/amargo/pkg/config"
	"github.com/brunocascio/amargo/pkg/httputil"
	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/observability"
)

// RouteRegistrar is implemented by every protocol adapter.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Server hosts the main request router and the health listener.
type Server struct {
	router  *mux.Router
	meta    metastore.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	health  *observability.HealthChecker

	promRegistry *prometheus.Registry

	httpServer   *http.Server
	healthServer *http.Server
}

// NewServer creates the server with the shared middleware chain and the
// introspection routes. Protocol adapters are added via RegisterRoutes.
func NewServer(meta metastore.Store, logger *observability.Logger, metrics *observability.Metrics, health *observability.HealthChecker, promRegistry *prometheus.Registry) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		meta:         meta,
		logger:       logger,
		metrics:      metrics,
		health:       health,
		promRegistry: promRegistry,
	}

	s.router.Use(
		httputil.RequestIDMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MetricsMiddleware(metrics),
	)

	s.setupRoutes()
	return s
}

// setupRoutes configures the introspection routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/repositories", s.listRepositories).Methods("GET")
	s.router.HandleFunc("/api/repositories/{name}", s.getRepository).Methods("GET")
	s.router.HandleFunc("/api/groups/{name}", s.getGroup).Methods("GET")
	s.router.HandleFunc("/api/artifacts/least-recently-accessed", s.leastRecentlyAccessed).Methods("GET")
}

// RegisterRoutes registers routes from a RouteRegistrar.
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// Handler returns the main router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// healthHandler builds the mux served on the health port.
func (s *Server) healthHandler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/healthz", s.health.Liveness)
	m.HandleFunc("/readyz", s.health.Readiness)
	if s.promRegistry != nil {
		m.Handle("/metrics", observability.Handler(s.promRegistry))
	}
	return m
}

// Start brings up both listeners. It returns once they are accepting;
// serve errors are delivered on errCh.
func (s *Server) Start(cfg config.ServerConfig, errCh chan<- error) error {
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.healthServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.HealthPort),
		Handler: s.healthHandler(),
	}

	mainLn, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	healthLn, err := net.Listen("tcp", s.healthServer.Addr)
	if err != nil {
		mainLn.Close()
		return fmt.Errorf("listen %s: %w", s.healthServer.Addr, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"addr":        s.httpServer.Addr,
		"health_addr": s.healthServer.Addr,
	}).Info("http servers listening")

	go func() {
		if err := s.httpServer.Serve(mainLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := s.healthServer.Serve(healthLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()
	return nil
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
