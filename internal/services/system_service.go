package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/merchkit/api/internal/domain"
	"github.com/merchkit/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators for NewSystemService.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	info   BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the health reporting service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	tick := deps.Clock
	if tick == nil {
		tick = time.Now
	}
	info := deps.Build
	if info.StartedAt.IsZero() {
		info.StartedAt = tick()
	}

	return &systemService{
		health: deps.HealthRepository,
		now:    func() time.Time { return tick().UTC() },
		info:   info,
	}, nil
}

// HealthReport collects dependency checks and fills in build metadata the
// repository layer does not know about.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	report.Version = orDefault(report.Version, s.info.Version)
	report.CommitSHA = orDefault(report.CommitSHA, s.info.CommitSHA)
	report.Environment = orDefault(report.Environment, s.info.Environment)
	if report.Uptime <= 0 && !s.info.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.info.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	report.Status = orDefault(report.Status, worstCheckStatus(report.Checks))
	return report, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// worstCheckStatus folds the individual checks into one status: any error
// check makes the report an error, any other non-ok status degrades it.
func worstCheckStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
