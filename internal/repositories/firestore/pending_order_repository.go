package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/merchkit/api/internal/domain"
	pfirestore "github.com/merchkit/api/internal/platform/firestore"
	"github.com/merchkit/api/internal/repositories"
)

const pendingOrdersCollection = "pendingOrders"

// PendingOrderRepository persists pending order documents. Mutations
// join an ambient Firestore transaction when one is carried in the
// context, which backs the registry's RunInTx.
type PendingOrderRepository struct {
	base *pfirestore.Collection[pendingOrderDocument]
}

// NewPendingOrderRepository constructs a Firestore-backed pending order repository.
func NewPendingOrderRepository(provider *pfirestore.Provider) (*PendingOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("pending order repository: firestore provider is required")
	}
	base := pfirestore.NewCollection[pendingOrderDocument](provider, pendingOrdersCollection)
	return &PendingOrderRepository{base: base}, nil
}

// Insert stores a new pending order document. The ID must be unique.
func (r *PendingOrderRepository) Insert(ctx context.Context, order domain.PendingOrder) error {
	if r == nil || r.base == nil {
		return errors.New("pending order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("pending order repository: order id is required")
	}
	docRef, err := r.base.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodePendingOrderDocument(order)
	if tx := txFromContext(ctx); tx != nil {
		if err := tx.Create(docRef, doc); err != nil {
			return pfirestore.WrapError("pending_orders.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("pending_orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *PendingOrderRepository) Update(ctx context.Context, order domain.PendingOrder) error {
	if r == nil || r.base == nil {
		return errors.New("pending order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("pending order repository: order id is required")
	}
	docRef, err := r.base.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodePendingOrderDocument(order)
	if tx := txFromContext(ctx); tx != nil {
		if err := tx.Set(docRef, doc); err != nil {
			return pfirestore.WrapError("pending_orders.update", err)
		}
		return nil
	}
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("pending_orders.update", err)
	}
	return nil
}

// Delete removes the order document.
func (r *PendingOrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("pending order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("pending order repository: order id is required")
	}
	docRef, err := r.base.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	if tx := txFromContext(ctx); tx != nil {
		if err := tx.Delete(docRef, firestore.Exists); err != nil {
			return pfirestore.WrapError("pending_orders.delete", err)
		}
		return nil
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("pending_orders.delete", err)
	}
	return nil
}

// FindByID fetches a single pending order.
func (r *PendingOrderRepository) FindByID(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	if r == nil || r.base == nil {
		return domain.PendingOrder{}, errors.New("pending order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PendingOrder{}, errors.New("pending order repository: order id is required")
	}
	if tx := txFromContext(ctx); tx != nil {
		docRef, err := r.base.Doc(ctx, orderID)
		if err != nil {
			return domain.PendingOrder{}, err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return domain.PendingOrder{}, pfirestore.WrapError("pending_orders.get", err)
		}
		var doc pendingOrderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.PendingOrder{}, pfirestore.WrapError("pending_orders.get", err)
		}
		return decodePendingOrderDocument(orderID, doc, snap.CreateTime, snap.UpdateTime), nil
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return decodePendingOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByPostedOrderID resolves every pending order whose posting produced
// the given confirmed order id. A posted order can fan out into several
// pending orders, so zero matches return an empty slice rather than an error.
func (r *PendingOrderRepository) FindByPostedOrderID(ctx context.Context, postedOrderID string) ([]domain.PendingOrder, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("pending order repository not initialised")
	}
	postedOrderID = strings.TrimSpace(postedOrderID)
	if postedOrderID == "" {
		return nil, errors.New("pending order repository: posted order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("postedOrderId", "==", postedOrderID).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.PendingOrder, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodePendingOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return orders, nil
}

// List returns pending orders matching the filter ordered by most recent creation.
func (r *PendingOrderRepository) List(ctx context.Context, filter repositories.PendingOrderListFilter) (domain.CursorPage[domain.PendingOrder], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.PendingOrder]{}, errors.New("pending order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodePendingOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.PendingOrder]{}, fmt.Errorf("pending order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	companyID := strings.TrimSpace(filter.CompanyID)
	userID := strings.TrimSpace(filter.UserID)

	fetch := func(cursor []any, batchSize int) ([]pendingOrderPageItem, error) {
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			if companyID != "" {
				q = q.Where("companyId", "==", companyID)
			}
			if userID != "" {
				q = q.Where("userId", "==", userID)
			}
			if filter.CampaignID != nil {
				if campaign := strings.TrimSpace(*filter.CampaignID); campaign != "" {
					q = q.Where("campaignId", "==", campaign)
				}
			}
			if filter.DateRange.From != nil {
				q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
			}
			if filter.DateRange.To != nil {
				q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
			}
			q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
			if len(cursor) == 2 {
				q = q.StartAfter(cursor...)
			}
			if batchSize > 0 {
				q = q.Limit(batchSize)
			}
			return q
		})
		if err != nil {
			return nil, err
		}
		batch := make([]pendingOrderPageItem, 0, len(docs))
		for _, doc := range docs {
			sortTime := doc.Data.CreatedAt
			if sortTime.IsZero() {
				sortTime = doc.CreateTime
			}
			batch = append(batch, pendingOrderPageItem{
				order:    decodePendingOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime),
				sortTime: sortTime,
			})
		}
		return batch, nil
	}

	items, nextToken, err := fillPendingOrderPage(limit, filter.States, startAfter, fetch)
	if err != nil {
		return domain.CursorPage[domain.PendingOrder]{}, err
	}
	return domain.CursorPage[domain.PendingOrder]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// pendingOrderPageItem pairs a decoded order with the sort key Firestore
// ordered it by, so page cursors can resume from the raw document position.
type pendingOrderPageItem struct {
	order    domain.PendingOrder
	sortTime time.Time
}

// fillPendingOrderPage keeps fetching ordered batches until limit state-matching
// orders are collected or the query is exhausted. State filtering runs in the
// application layer, so it has to happen before the page is trimmed and the
// next-page token computed, otherwise filtered pages come back short.
func fillPendingOrderPage(limit int, states []domain.OrderState, cursor []any, fetch func(cursor []any, batchSize int) ([]pendingOrderPageItem, error)) ([]domain.PendingOrder, string, error) {
	if limit <= 0 {
		batch, err := fetch(cursor, 0)
		if err != nil {
			return nil, "", err
		}
		items := make([]domain.PendingOrder, 0, len(batch))
		for _, item := range batch {
			if len(states) == 0 || stateMatches(item.order.State, states) {
				items = append(items, item.order)
			}
		}
		return items, "", nil
	}

	// Collect one matching item beyond the page so a token is only issued
	// when a further page actually exists.
	want := limit + 1
	matched := make([]pendingOrderPageItem, 0, want)
	for len(matched) < want {
		batch, err := fetch(cursor, want)
		if err != nil {
			return nil, "", err
		}
		for _, item := range batch {
			if len(states) == 0 || stateMatches(item.order.State, states) {
				matched = append(matched, item)
				if len(matched) == want {
					break
				}
			}
		}
		if len(batch) < want {
			break
		}
		last := batch[len(batch)-1]
		cursor = []any{last.sortTime, last.order.ID}
	}

	nextToken := ""
	if len(matched) == want {
		matched = matched[:limit]
		last := matched[limit-1]
		nextToken = encodePendingOrderListToken(last.sortTime, last.order.ID)
	}
	items := make([]domain.PendingOrder, 0, len(matched))
	for _, item := range matched {
		items = append(items, item.order)
	}
	return items, nextToken, nil
}

func stateMatches(state domain.OrderState, states []domain.OrderState) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}
	return false
}

type pendingOrderDocument struct {
	OrderNumber       string                 `firestore:"orderNumber"`
	CompanyID         string                 `firestore:"companyId"`
	CampaignID        *string                `firestore:"campaignId,omitempty"`
	UserID            string                 `firestore:"userId"`
	PostedOrderID     *string                `firestore:"postedOrderId,omitempty"`
	IsQueued          bool                   `firestore:"isQueued"`
	Currency          string                 `firestore:"currency,omitempty"`
	ShippingID        *string                `firestore:"shippingId,omitempty"`
	Shipped           *time.Time             `firestore:"shipped,omitempty"`
	DeliveryDate      *time.Time             `firestore:"deliveryDate,omitempty"`
	Comment           *string                `firestore:"comment,omitempty"`
	Description       *string                `firestore:"description,omitempty"`
	CostCenter        *string                `firestore:"costCenter,omitempty"`
	PlatformCode      int64                  `firestore:"platformCode,omitempty"`
	LanguageCode      int64                  `firestore:"languageCode,omitempty"`
	ChannelCode       int64                  `firestore:"channelCode,omitempty"`
	Lines             []orderLineDocument    `firestore:"lines"`
	ShippingAddresses []orderAddressDocument `firestore:"shippingAddresses"`
	Billing           *orderAddressDocument  `firestore:"billing,omitempty"`
	Metadata          map[string]string      `firestore:"metadata,omitempty"`
	CreatedAt         time.Time              `firestore:"createdAt"`
	UpdatedAt         time.Time              `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ArticleNumber    string `firestore:"articleNumber"`
	ArticleName      string `firestore:"articleName"`
	Quantity         int64  `firestore:"quantity"`
	UnitPrice        int64  `firestore:"unitPrice"`
	Currency         string `firestore:"currency"`
	VAT              int64  `firestore:"vat,omitempty"`
	Discount         int64  `firestore:"discount,omitempty"`
	NetPurchasePrice int64  `firestore:"netPurchasePrice,omitempty"`
	LineTypeCode     int64  `firestore:"lineTypeCode,omitempty"`
}

type orderAddressDocument struct {
	Name       string `firestore:"name"`
	Company    string `firestore:"company,omitempty"`
	Street     string `firestore:"street"`
	HouseNo    string `firestore:"houseNo,omitempty"`
	PostalCode string `firestore:"postalCode"`
	City       string `firestore:"city"`
	Country    string `firestore:"country"`
	Email      string `firestore:"email,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

func encodePendingOrderDocument(order domain.PendingOrder) pendingOrderDocument {
	doc := pendingOrderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		CompanyID:     strings.TrimSpace(order.CompanyID),
		CampaignID:    normalizeStringPointer(order.CampaignID),
		UserID:        strings.TrimSpace(order.UserID),
		PostedOrderID: normalizeStringPointer(order.PostedOrderID),
		IsQueued:      order.IsQueued,
		Currency:      strings.TrimSpace(order.Currency),
		ShippingID:    normalizeStringPointer(order.ShippingID),
		Shipped:       normalizeTimePointer(order.Shipped),
		DeliveryDate:  normalizeTimePointer(order.DeliveryDate),
		Comment:       normalizeStringPointer(order.Comment),
		Description:   normalizeStringPointer(order.Description),
		CostCenter:    normalizeStringPointer(order.CostCenter),
		PlatformCode:  order.PlatformCode,
		LanguageCode:  order.LanguageCode,
		ChannelCode:   order.ChannelCode,
		Metadata:      cloneStringMap(order.Metadata),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	if len(order.Lines) > 0 {
		doc.Lines = make([]orderLineDocument, 0, len(order.Lines))
		for _, line := range order.Lines {
			doc.Lines = append(doc.Lines, orderLineDocument{
				ArticleNumber:    strings.TrimSpace(line.ArticleNumber),
				ArticleName:      strings.TrimSpace(line.ArticleName),
				Quantity:         line.Quantity,
				UnitPrice:        line.UnitPrice,
				Currency:         strings.TrimSpace(line.Currency),
				VAT:              line.VAT,
				Discount:         line.Discount,
				NetPurchasePrice: line.NetPurchasePrice,
				LineTypeCode:     line.LineTypeCode,
			})
		}
	}
	if len(order.ShippingAddresses) > 0 {
		doc.ShippingAddresses = make([]orderAddressDocument, 0, len(order.ShippingAddresses))
		for i := range order.ShippingAddresses {
			doc.ShippingAddresses = append(doc.ShippingAddresses, *encodeOrderAddress(&order.ShippingAddresses[i]))
		}
	}
	doc.Billing = encodeOrderAddress(order.Billing)
	return doc
}

func encodeOrderAddress(addr *domain.Address) *orderAddressDocument {
	if addr == nil {
		return nil
	}
	return &orderAddressDocument{
		Name:       strings.TrimSpace(addr.Name),
		Company:    strings.TrimSpace(addr.Company),
		Street:     strings.TrimSpace(addr.Street),
		HouseNo:    strings.TrimSpace(addr.HouseNo),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		City:       strings.TrimSpace(addr.City),
		Country:    strings.TrimSpace(addr.Country),
		Email:      strings.TrimSpace(addr.Email),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}

func decodePendingOrderDocument(id string, doc pendingOrderDocument, createdAt, updatedAt time.Time) domain.PendingOrder {
	order := domain.PendingOrder{
		ID:            strings.TrimSpace(id),
		OrderNumber:   strings.TrimSpace(doc.OrderNumber),
		CompanyID:     strings.TrimSpace(doc.CompanyID),
		CampaignID:    normalizeStringPointer(doc.CampaignID),
		UserID:        strings.TrimSpace(doc.UserID),
		PostedOrderID: normalizeStringPointer(doc.PostedOrderID),
		IsQueued:      doc.IsQueued,
		Currency:      strings.TrimSpace(doc.Currency),
		ShippingID:    normalizeStringPointer(doc.ShippingID),
		Shipped:       normalizeTimePointer(doc.Shipped),
		DeliveryDate:  normalizeTimePointer(doc.DeliveryDate),
		Comment:       normalizeStringPointer(doc.Comment),
		Description:   normalizeStringPointer(doc.Description),
		CostCenter:    normalizeStringPointer(doc.CostCenter),
		PlatformCode:  doc.PlatformCode,
		LanguageCode:  doc.LanguageCode,
		ChannelCode:   doc.ChannelCode,
		Metadata:      cloneStringMap(doc.Metadata),
		CreatedAt:     chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:     chooseTime(doc.UpdatedAt, updatedAt),
	}
	if len(doc.Lines) > 0 {
		order.Lines = make([]domain.OrderLine, 0, len(doc.Lines))
		for _, line := range doc.Lines {
			order.Lines = append(order.Lines, domain.OrderLine{
				ArticleNumber:    strings.TrimSpace(line.ArticleNumber),
				ArticleName:      strings.TrimSpace(line.ArticleName),
				Quantity:         line.Quantity,
				UnitPrice:        line.UnitPrice,
				Currency:         strings.TrimSpace(line.Currency),
				VAT:              line.VAT,
				Discount:         line.Discount,
				NetPurchasePrice: line.NetPurchasePrice,
				LineTypeCode:     line.LineTypeCode,
			})
		}
	}
	if len(doc.ShippingAddresses) > 0 {
		order.ShippingAddresses = make([]domain.Address, 0, len(doc.ShippingAddresses))
		for i := range doc.ShippingAddresses {
			order.ShippingAddresses = append(order.ShippingAddresses, *decodeOrderAddress(&doc.ShippingAddresses[i]))
		}
	}
	order.Billing = decodeOrderAddress(doc.Billing)
	order.State = order.ResolveState()
	return order
}

func decodeOrderAddress(doc *orderAddressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		Name:       strings.TrimSpace(doc.Name),
		Company:    strings.TrimSpace(doc.Company),
		Street:     strings.TrimSpace(doc.Street),
		HouseNo:    strings.TrimSpace(doc.HouseNo),
		PostalCode: strings.TrimSpace(doc.PostalCode),
		City:       strings.TrimSpace(doc.City),
		Country:    strings.TrimSpace(doc.Country),
		Email:      strings.TrimSpace(doc.Email),
		Phone:      strings.TrimSpace(doc.Phone),
	}
}

func normalizeStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func encodePendingOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodePendingOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}
