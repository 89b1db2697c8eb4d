package repositories

import (
	"context"
	"time"

	domain "github.com/merchkit/api/internal/domain"
)

// Registry hands out the repository set backing the service layer and owns
// the shared client lifecycle.
type Registry interface {
	Close(ctx context.Context) error

	PendingOrders() PendingOrderRepository
	Products() ProductRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError classifies persistence failures so services can map them
// onto API error codes without knowing the datastore.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork runs fn with every repository call inside one transactional
// scope when the backing store supports it.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PendingOrderRepository persists pending order documents and the query
// helpers the lifecycle operations need.
type PendingOrderRepository interface {
	Insert(ctx context.Context, order domain.PendingOrder) error
	Update(ctx context.Context, order domain.PendingOrder) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.PendingOrder, error)
	// FindByPostedOrderID resolves every pending order whose posting
	// produced the given confirmed order id. Several pending orders may
	// share a posted order id; zero matches return an empty slice, not
	// an error.
	FindByPostedOrderID(ctx context.Context, postedOrderID string) ([]domain.PendingOrder, error)
	List(ctx context.Context, filter PendingOrderListFilter) (domain.CursorPage[domain.PendingOrder], error)
}

// ProductRepository looks up catalog entries during line validation.
type ProductRepository interface {
	FindByArticleNumber(ctx context.Context, articleNumber string) (domain.Product, error)
}

// CounterRepository issues monotonic order numbers. Next is safe under
// concurrent callers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository probes the backing dependencies for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// PendingOrderListFilter scopes pending order listings.
type PendingOrderListFilter struct {
	CompanyID  string
	UserID     string
	CampaignID *string
	States     []domain.OrderState
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig adjusts a counter's step, ceiling, and starting value. Nil
// pointer fields leave the stored setting untouched.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
