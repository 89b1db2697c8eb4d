package domain

import "time"

// Pagination carries the cursor paging inputs shared by list operations.
// PageToken continues a previous page; an empty token starts from the top.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder selects the direction of an ordered list query.
type SortOrder string

const (
	// SortAsc orders oldest-first.
	SortAsc SortOrder = "asc"
	// SortDesc orders newest-first.
	SortDesc SortOrder = "desc"
)

// RangeQuery bounds a field between optional inclusive endpoints. A nil
// endpoint leaves that side unbounded.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage is one page of list results. NextPageToken is empty on the
// final page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Health statuses reported by readiness probes. Degraded keeps the service
// in rotation; error takes it out.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck records one dependency probe outcome.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport folds every dependency check into the overall status
// served by the health endpoints, alongside build metadata.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
