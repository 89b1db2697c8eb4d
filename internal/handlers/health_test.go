package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/merchkit/api/internal/services"
)

type stubSystemService struct {
	reportFn func(context.Context) (services.SystemHealthReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.reportFn != nil {
		return s.reportFn(ctx)
	}
	return services.SystemHealthReport{}, errors.New("not implemented")
}

func TestHealthzReportsUptime(t *testing.T) {
	base := time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)
	current := base
	handler := NewHealthHandlers(WithHealthClock(func() time.Time { return current }))
	current = base.Add(90 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Uptime != "1m30s" {
		t.Fatalf("unexpected uptime %q", payload.Uptime)
	}
}

func TestReadyzWithoutSystemServiceDegradesToLiveness(t *testing.T) {
	handler := NewHealthHandlers()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestReadyzReportsDependencyChecks(t *testing.T) {
	generated := time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{
				Status: "degraded",
				Checks: map[string]services.SystemHealthCheck{
					"firestore": {Status: "ok", Latency: 12 * time.Millisecond, CheckedAt: generated},
					"pubsub":    {Status: "degraded", Error: "publish timeout", CheckedAt: generated},
				},
				Version:     "1.4.0",
				Environment: "production",
				Uptime:      3 * time.Hour,
				GeneratedAt: generated,
			}, nil
		},
	}

	handler := NewHealthHandlers(WithSystemService(system))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for degraded, got %d", rr.Code)
	}

	var payload readinessResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Status != "degraded" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if len(payload.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(payload.Checks))
	}
	if payload.Checks["firestore"].LatencyMS != 12 {
		t.Fatalf("unexpected latency %#v", payload.Checks["firestore"])
	}
	if payload.Checks["pubsub"].Error != "publish timeout" {
		t.Fatalf("unexpected pubsub check %#v", payload.Checks["pubsub"])
	}
	if payload.Version != "1.4.0" || payload.Environment != "production" {
		t.Fatalf("unexpected build metadata %#v", payload)
	}
}

func TestReadyzErrorStatusReturns503(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{Status: "error"}, nil
		},
	}

	handler := NewHealthHandlers(WithSystemService(system))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestReadyzCollectFailureReturns503(t *testing.T) {
	system := &stubSystemService{
		reportFn: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{}, errors.New("probe failed")
		},
	}

	handler := NewHealthHandlers(WithSystemService(system))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
