package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pingable is implemented by backends that can report their own health.
type Pingable interface {
	HealthCheck(ctx context.Context) error
}

// HealthChecker probes the metadata store and the blob backend
type HealthChecker struct {
	metadata Pingable
	blobs    Pingable
	version  string
}

// NewHealthChecker creates a new health checker. Either dependency may be
// nil, in which case it is skipped.
func NewHealthChecker(metadata, blobs Pingable, version string) *HealthChecker {
	return &HealthChecker{
		metadata: metadata,
		blobs:    blobs,
		version:  version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	// Return 503 if unhealthy, 200 if healthy or degraded
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.metadata != nil {
		dep := checkDependency(ctx, h.metadata)
		status.Dependencies["metadata"] = dep
		if dep.Status == StatusUnhealthy {
			// Without metadata the proxy cannot resolve any repository.
			status.Status = StatusUnhealthy
		}
	}

	if h.blobs != nil {
		dep := checkDependency(ctx, h.blobs)
		status.Dependencies["blobs"] = dep
		if dep.Status == StatusUnhealthy && status.Status != StatusUnhealthy {
			// HITs cannot be served but metadata endpoints still work.
			status.Status = StatusDegraded
		}
	}

	return status
}

func checkDependency(ctx context.Context, p Pingable) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	err := p.HealthCheck(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}

	return status
}
