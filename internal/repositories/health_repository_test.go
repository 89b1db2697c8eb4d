package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/merchkit/api/internal/domain"
)

func healthyCheck(name string) DependencyCheck {
	return DependencyCheck{Name: name, Check: func(context.Context) error { return nil }}
}

func TestHealthCollectAllDependenciesHealthy(t *testing.T) {
	now := time.Date(2026, time.February, 9, 8, 15, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{healthyCheck("firestore"), healthyCheck("pubsub")},
		WithDependencyClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
	for _, name := range []string{"firestore", "pubsub"} {
		check, ok := report.Checks[name]
		if !ok {
			t.Fatalf("missing check %s", name)
		}
		if check.Status != domain.HealthStatusOK || check.CheckedAt != now {
			t.Fatalf("check %s: %+v", name, check)
		}
	}
}

func TestHealthCollectFailingDependencyDegradesReport(t *testing.T) {
	failure := errors.New("firestore unavailable")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return failure }},
		healthyCheck("pubsub"),
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	check := report.Checks["firestore"]
	if check.Status != domain.HealthStatusDegraded || check.Error != failure.Error() {
		t.Fatalf("unexpected firestore check: %+v", check)
	}
	if report.Checks["pubsub"].Status != domain.HealthStatusOK {
		t.Fatalf("pubsub should stay ok: %+v", report.Checks["pubsub"])
	}
}

func TestHealthCollectTimeoutIsAnError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "pubsub",
			Timeout: 5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(50 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if detail := report.Checks["pubsub"].Detail; detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", detail)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	cases := []struct {
		name   string
		checks []DependencyCheck
	}{
		{"empty set", nil},
		{"blank name", []DependencyCheck{{Name: "   ", Check: func(context.Context) error { return nil }}}},
		{"missing func", []DependencyCheck{{Name: "firestore"}}},
	}
	for _, tc := range cases {
		if _, err := NewDependencyHealthRepository(tc.checks); err == nil {
			t.Fatalf("%s: expected constructor error", tc.name)
		}
	}
}
