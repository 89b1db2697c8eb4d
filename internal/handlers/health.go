package handlers

import (
	"net/http"
	"time"

	"github.com/merchkit/api/internal/platform/httpx"
	"github.com/merchkit/api/internal/services"
)

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	system    services.SystemService
	startedAt time.Time
	clock     func() time.Time
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithSystemService wires the readiness probe to the system health report.
func WithSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthClock overrides the time source, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the health endpoint handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.startedAt = h.clock()
	return h
}

type healthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

type readinessResponse struct {
	Status      string                        `json:"status"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commit_sha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	GeneratedAt string                        `json:"generated_at,omitempty"`
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	CheckedAt string `json:"checked_at,omitempty"`
}

// Healthz reports process liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	respondJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Uptime:    now.Sub(h.startedAt).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// Readyz probes downstream dependencies through the system service. Without a
// system service it degrades to a liveness answer.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.system == nil {
		respondJSON(w, http.StatusOK, readinessResponse{Status: "ok"})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_report_failed", "failed to collect health report", http.StatusServiceUnavailable))
		return
	}

	payload := readinessResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		GeneratedAt: timestamp(report.GeneratedAt),
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.String()
	}
	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			payload.Checks[name] = healthCheckPayload{
				Status:    check.Status,
				Detail:    check.Detail,
				Error:     check.Error,
				LatencyMS: check.Latency.Milliseconds(),
				CheckedAt: timestamp(check.CheckedAt),
			}
		}
	}

	status := http.StatusOK
	if report.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, payload)
}
