package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePingable struct {
	err error
}

func (f *fakePingable) HealthCheck(ctx context.Context) error { return f.err }

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")

	rec := httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200", rec.Code)
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		metadata   error
		blobs      error
		wantCode   int
		wantStatus string
	}{
		{"all healthy", nil, nil, http.StatusOK, StatusHealthy},
		{"metadata down", errors.New("dial tcp: refused"), nil, http.StatusServiceUnavailable, StatusUnhealthy},
		{"blobs down", nil, errors.New("bucket missing"), http.StatusOK, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker(&fakePingable{err: tt.metadata}, &fakePingable{err: tt.blobs}, "test")

			rec := httptest.NewRecorder()
			checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("readiness status = %d, want %d", rec.Code, tt.wantCode)
			}

			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status.Status, tt.wantStatus)
			}
		})
	}
}

func TestHealthChecker_Check_ReportsDependencyMessages(t *testing.T) {
	checker := NewHealthChecker(&fakePingable{err: errors.New("no pg_hba.conf entry")}, nil, "test")

	status := checker.Check(context.Background())

	dep, ok := status.Dependencies["metadata"]
	if !ok {
		t.Fatal("metadata dependency missing from report")
	}
	if dep.Status != StatusUnhealthy || dep.Message == "" {
		t.Errorf("metadata dependency = %+v", dep)
	}
}
