package domain

import "time"

// OrderState is the lifecycle position of a pending order. It is never
// stored; repositories derive it from the persisted lifecycle markers
// when an order is loaded.
type OrderState string

const (
	// OrderStateOpen marks an order that is still editable and deletable.
	OrderStateOpen OrderState = "open"
	// OrderStateQueued marks an order handed to asynchronous posting.
	OrderStateQueued OrderState = "queued"
	// OrderStatePosted marks an order that produced a confirmed order.
	OrderStatePosted OrderState = "posted"
)

// OrderClassification separates catalogue template orders from orders
// scoped to a concrete campaign.
type OrderClassification string

const (
	OrderClassificationCatalogue      OrderClassification = "catalogue"
	OrderClassificationCampaignScoped OrderClassification = "campaign_scoped"
)

// PendingOrder is a draft order awaiting posting. Catalogue orders
// (no campaign) act as reusable templates and are never deleted through
// the regular lifecycle. An order always carries at least one line and
// at least one shipping address.
type PendingOrder struct {
	ID            string
	OrderNumber   string
	CompanyID     string
	CampaignID    *string
	UserID        string
	PostedOrderID *string
	IsQueued      bool
	Currency      string
	ShippingID    *string
	Shipped       *time.Time
	DeliveryDate  *time.Time
	Comment       *string
	Description   *string
	CostCenter    *string
	PlatformCode  int64
	LanguageCode  int64
	ChannelCode   int64
	Lines         []OrderLine
	// ShippingAddresses keeps submission order; the first entry is the
	// primary delivery address.
	ShippingAddresses []Address
	Billing           *Address
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// State is computed at load time from PostedOrderID and IsQueued.
	State OrderState
}

// OrderLine is a single article position on a pending order. UnitPrice
// is the net sale price resolved from the graduated tier table; VAT,
// Discount, NetPurchasePrice and LineTypeCode are caller supplied and
// passed through to downstream document generation.
type OrderLine struct {
	ArticleNumber    string
	ArticleName      string
	Quantity         int64
	UnitPrice        int64
	Currency         string
	VAT              int64
	Discount         int64
	NetPurchasePrice int64
	LineTypeCode     int64
}

// Address is a shipping or billing address attached to an order.
type Address struct {
	Name       string
	Company    string
	Street     string
	HouseNo    string
	PostalCode string
	City       string
	Country    string
	Email      string
	Phone      string
}

// ResolveState derives the lifecycle state from the persisted markers.
// A posted order id wins over the queued flag.
func (o PendingOrder) ResolveState() OrderState {
	switch {
	case o.PostedOrderID != nil && *o.PostedOrderID != "":
		return OrderStatePosted
	case o.IsQueued:
		return OrderStateQueued
	default:
		return OrderStateOpen
	}
}

// Classification reports whether the order is a catalogue template or
// belongs to a campaign.
func (o PendingOrder) Classification() OrderClassification {
	if o.CampaignID == nil || *o.CampaignID == "" {
		return OrderClassificationCatalogue
	}
	return OrderClassificationCampaignScoped
}
