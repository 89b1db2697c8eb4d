package services

import (
	"context"
	"time"

	domain "github.com/merchkit/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	PendingOrder        = domain.PendingOrder
	OrderLine           = domain.OrderLine
	OrderState          = domain.OrderState
	OrderClassification = domain.OrderClassification
	Address             = domain.Address
	Product             = domain.Product
	GraduatedPriceTier  = domain.GraduatedPriceTier
	SystemHealthReport  = domain.SystemHealthReport
	SystemHealthCheck   = domain.SystemHealthCheck
)

// Role identifies the permission tier of an authenticated actor.
type Role string

const (
	RoleAdmin                Role = "admin"
	RoleCompanyAdministrator Role = "company_admin"
	RoleCampaignManager      Role = "campaign_manager"
	RoleUser                 Role = "user"
)

// Actor is the authenticated principal on whose behalf an operation runs.
type Actor struct {
	ID        string
	Role      Role
	CompanyID string
}

// IsPrivileged reports whether the actor holds a company scoped management role.
func (a Actor) IsPrivileged() bool {
	switch a.Role {
	case RoleAdmin, RoleCompanyAdministrator, RoleCampaignManager:
		return true
	default:
		return false
	}
}

// PendingOrderService owns the pending order lifecycle: validated batch
// creation, reads, updates, guarded deletion, and duplication of posted
// orders back into open drafts.
type PendingOrderService interface {
	CreateOrders(ctx context.Context, actor Actor, submissions []OrderSubmission) ([]PendingOrder, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (PendingOrder, error)
	ListOrders(ctx context.Context, actor Actor, filter PendingOrderListFilter) (domain.CursorPage[PendingOrder], error)
	UpdateOrder(ctx context.Context, actor Actor, cmd UpdateOrderCommand) (PendingOrder, error)
	DeleteOrder(ctx context.Context, actor Actor, orderID string) error
	DuplicateOrders(ctx context.Context, actor Actor, refs []DuplicateOrderRef) ([]PendingOrder, error)
}

// CatalogService resolves catalog entries for validation and lookups.
type CatalogService interface {
	FindProduct(ctx context.Context, articleNumber string) (Product, error)
}

// IngestionService converts structurally parsed external batches into
// pending order submissions and hands them to the order service.
type IngestionService interface {
	ImportBatch(ctx context.Context, actor Actor, batch ImportBatch) ([]PendingOrder, error)
}

// SystemService exposes operational utilities such as health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderSubmission is one candidate pending order inside a creation batch.
// At least one line and one shipping address are required.
type OrderSubmission struct {
	CompanyID         string
	CampaignID        *string
	UserID            string
	Currency          string
	ShippingID        *string
	Shipped           *time.Time
	DeliveryDate      *time.Time
	Comment           *string
	Description       *string
	CostCenter        *string
	PlatformCode      int64
	LanguageCode      int64
	ChannelCode       int64
	Lines             []OrderLineInput
	ShippingAddresses []Address
	Billing           *Address
	Metadata          map[string]string
}

// OrderLineInput is a requested article position prior to validation.
// ArticleName is the caller supplied label and only used for error
// reporting; the catalog entry's name wins once the article resolves.
// VAT, Discount, NetPurchasePrice and LineTypeCode pass through
// unvalidated.
type OrderLineInput struct {
	ArticleNumber    string
	ArticleName      string
	Quantity         int64
	VAT              int64
	Discount         int64
	NetPurchasePrice int64
	LineTypeCode     int64
}

// UpdateOrderCommand mutates an existing pending order. Nil fields are
// left unchanged. A non-nil ShippingAddresses replaces the whole list
// and must keep at least one entry.
type UpdateOrderCommand struct {
	OrderID           string
	Shipped           *time.Time
	DeliveryDate      *time.Time
	Comment           *string
	Description       *string
	CostCenter        *string
	Lines             []OrderLineInput
	ShippingAddresses []Address
	Billing           *Address
	Metadata          map[string]string
}

// DuplicateOrderRef names one posted order to clone plus its requested
// shipping date.
type DuplicateOrderRef struct {
	OrderID string
	Shipped *time.Time
}

// PendingOrderListFilter scopes list queries. Company and user scoping is
// applied on top by the service based on the actor's role.
type PendingOrderListFilter struct {
	CampaignID *string
	States     []OrderState
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// ImportBatch is a structurally parsed external order batch.
type ImportBatch struct {
	Source     string
	CampaignID *string
	Orders     []OrderSubmission
}
