package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merchkit/api/internal/platform/auth"
	"github.com/merchkit/api/internal/platform/httpx"
	"github.com/merchkit/api/internal/platform/pagination"
	"github.com/merchkit/api/internal/services"
)

const (
	defaultPendingOrderPageSize = 20
	maxPendingOrderPageSize     = 100
	maxOrderBodySize            = 256 * 1024
)

// PendingOrderHandlers exposes the pending order lifecycle endpoints for
// authenticated users.
type PendingOrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.PendingOrderService
	imports       services.IngestionService
	importThrottle throttle
}

// PendingOrderOption customises handler construction.
type PendingOrderOption func(*PendingOrderHandlers)

// WithImportRateLimit throttles the import endpoint per actor.
func WithImportRateLimit(limit int, window time.Duration) PendingOrderOption {
	return func(h *PendingOrderHandlers) {
		h.importThrottle = newImportThrottle(limit, window, nil)
	}
}

// NewPendingOrderHandlers constructs a new PendingOrderHandlers instance.
func NewPendingOrderHandlers(authn *auth.Authenticator, orders services.PendingOrderService, imports services.IngestionService, opts ...PendingOrderOption) *PendingOrderHandlers {
	h := &PendingOrderHandlers{
		authn:   authn,
		orders:  orders,
		imports: imports,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /pending-orders endpoints.
func (h *PendingOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrders)
	r.Get("/", h.listOrders)
	r.Post("/duplicate", h.duplicateOrders)
	r.Post("/import", h.importOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Delete("/{orderID}", h.deleteOrder)
}

func (h *PendingOrderHandlers) createOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_service_unavailable", "pending order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createOrdersRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}
	if len(req.Orders) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one order is required", http.StatusBadRequest))
		return
	}

	submissions := make([]services.OrderSubmission, 0, len(req.Orders))
	for i, payload := range req.Orders {
		submission, err := buildOrderSubmission(payload)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest).WithDetails(map[string]any{"index": i}))
			return
		}
		submissions = append(submissions, submission)
	}

	created, err := h.orders.CreateOrders(ctx, actorFromIdentity(identity), submissions)
	if err != nil {
		writePendingOrderError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusCreated, pendingOrderListResponse{
		Orders: buildPendingOrderPayloads(created),
	})
}

func (h *PendingOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_service_unavailable", "pending order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	filter := services.PendingOrderListFilter{}
	if raw := strings.TrimSpace(query.Get("campaign_id")); raw != "" {
		filter.CampaignID = &raw
	}
	for _, state := range csvParams(query["state"]) {
		switch services.OrderState(state) {
		case services.OrderState("open"), services.OrderState("queued"), services.OrderState("posted"):
			filter.States = append(filter.States, services.OrderState(state))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "state must be one of open, queued, posted", http.StatusBadRequest))
			return
		}
	}
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.To = &ts
	}

	pageParams, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultPendingOrderPageSize,
		MaxPageSize:     maxPendingOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
		return
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageParams.PageSize,
		PageToken: pageParams.PageToken,
	}

	page, err := h.orders.ListOrders(ctx, actorFromIdentity(identity), filter)
	if err != nil {
		writePendingOrderError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, pendingOrderPageResponse{
		Items:         buildPendingOrderPayloads(page.Items),
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *PendingOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_service_unavailable", "pending order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, actorFromIdentity(identity), orderID)
	if err != nil {
		writePendingOrderError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, pendingOrderResponse{
		Order: buildPendingOrderPayload(order),
	})
}

func (h *PendingOrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_service_unavailable", "pending order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	cmd := services.UpdateOrderCommand{OrderID: orderID}
	if req.Shipped != nil {
		ts, err := parseTimestamp(strings.TrimSpace(*req.Shipped))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipped must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.Shipped = &ts
	}
	if req.DeliveryDate != nil {
		ts, err := parseTimestamp(strings.TrimSpace(*req.DeliveryDate))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.DeliveryDate = &ts
	}
	cmd.Comment = copyStringPtr(req.Comment)
	cmd.Description = copyStringPtr(req.Description)
	cmd.CostCenter = copyStringPtr(req.CostCenter)
	cmd.Metadata = copyStringMap(req.Metadata)
	if req.Lines != nil {
		cmd.Lines = buildOrderLineInputs(req.Lines)
	}
	if req.ShippingAddresses != nil {
		cmd.ShippingAddresses = make([]services.Address, 0, len(req.ShippingAddresses))
		for _, addr := range req.ShippingAddresses {
			cmd.ShippingAddresses = append(cmd.ShippingAddresses, buildAddress(addr))
		}
	}
	if req.Billing != nil {
		billing := buildAddress(*req.Billing)
		cmd.Billing = &billing
	}

	updated, err := h.orders.UpdateOrder(ctx, actorFromIdentity(identity), cmd)
	if err != nil {
		writePendingOrderError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, pendingOrderResponse{
		Order: buildPendingOrderPayload(updated),
	})
}

func (h *PendingOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_service_unavailable", "pending order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteOrder(ctx, actorFromIdentity(identity), orderID); err != nil {
		writePendingOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PendingOrderHandlers) duplicateOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_service_unavailable", "pending order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req duplicateOrdersRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}
	if len(req.Orders) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one order reference is required", http.StatusBadRequest))
		return
	}

	refs := make([]services.DuplicateOrderRef, 0, len(req.Orders))
	for i, payload := range req.Orders {
		ref := services.DuplicateOrderRef{OrderID: strings.TrimSpace(payload.OrderID)}
		if ref.OrderID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest).WithDetails(map[string]any{"index": i}))
			return
		}
		if payload.Shipped != nil {
			ts, err := parseTimestamp(strings.TrimSpace(*payload.Shipped))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipped must be a valid RFC3339 timestamp", http.StatusBadRequest).WithDetails(map[string]any{"index": i}))
				return
			}
			ref.Shipped = &ts
		}
		refs = append(refs, ref)
	}

	clones, err := h.orders.DuplicateOrders(ctx, actorFromIdentity(identity), refs)
	if err != nil {
		writePendingOrderError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusCreated, pendingOrderListResponse{
		Orders: buildPendingOrderPayloads(clones),
	})
}

func (h *PendingOrderHandlers) importOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.imports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ingestion_service_unavailable", "ingestion service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.importThrottle != nil && !h.importThrottle.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many import requests", http.StatusTooManyRequests))
		return
	}

	var req importOrdersRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}

	batch := services.ImportBatch{
		Source:     strings.TrimSpace(req.Source),
		CampaignID: copyStringPtr(req.CampaignID),
	}
	for i, payload := range req.Orders {
		submission, err := buildOrderSubmission(payload)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest).WithDetails(map[string]any{"index": i}))
			return
		}
		batch.Orders = append(batch.Orders, submission)
	}

	imported, err := h.imports.ImportBatch(ctx, actorFromIdentity(identity), batch)
	if err != nil {
		writePendingOrderError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusCreated, pendingOrderListResponse{
		Orders: buildPendingOrderPayloads(imported),
	})
}

func decodeOrderBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := requestBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

type createOrdersRequest struct {
	Orders []orderSubmissionPayload `json:"orders"`
}

type duplicateOrdersRequest struct {
	Orders []duplicateOrderRefPayload `json:"orders"`
}

type duplicateOrderRefPayload struct {
	OrderID string  `json:"order_id"`
	Shipped *string `json:"shipped,omitempty"`
}

type importOrdersRequest struct {
	Source     string                   `json:"source"`
	CampaignID *string                  `json:"campaign_id,omitempty"`
	Orders     []orderSubmissionPayload `json:"orders"`
}

type orderSubmissionPayload struct {
	CompanyID         string                `json:"company_id,omitempty"`
	CampaignID        *string               `json:"campaign_id,omitempty"`
	UserID            string                `json:"user_id,omitempty"`
	Currency          string                `json:"currency,omitempty"`
	ShippingID        *string               `json:"shipping_id,omitempty"`
	Shipped           *string               `json:"shipped,omitempty"`
	DeliveryDate      *string               `json:"delivery_date,omitempty"`
	Comment           *string               `json:"comment,omitempty"`
	Description       *string               `json:"description,omitempty"`
	CostCenter        *string               `json:"cost_center,omitempty"`
	PlatformCode      int64                 `json:"platform_code,omitempty"`
	LanguageCode      int64                 `json:"language_code,omitempty"`
	ChannelCode       int64                 `json:"channel_code,omitempty"`
	Lines             []orderLineInputData  `json:"lines"`
	ShippingAddresses []orderAddressPayload `json:"shipping_addresses"`
	Billing           *orderAddressPayload  `json:"billing,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
}

type updateOrderRequest struct {
	Shipped           *string               `json:"shipped,omitempty"`
	DeliveryDate      *string               `json:"delivery_date,omitempty"`
	Comment           *string               `json:"comment,omitempty"`
	Description       *string               `json:"description,omitempty"`
	CostCenter        *string               `json:"cost_center,omitempty"`
	Lines             []orderLineInputData  `json:"lines,omitempty"`
	ShippingAddresses []orderAddressPayload `json:"shipping_addresses,omitempty"`
	Billing           *orderAddressPayload  `json:"billing,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
}

type orderLineInputData struct {
	ArticleNumber    string `json:"article_number"`
	ArticleName      string `json:"article_name,omitempty"`
	Quantity         int64  `json:"quantity"`
	VAT              int64  `json:"vat,omitempty"`
	Discount         int64  `json:"discount,omitempty"`
	NetPurchasePrice int64  `json:"net_purchase_price,omitempty"`
	LineTypeCode     int64  `json:"line_type_code,omitempty"`
}

type orderAddressPayload struct {
	Name       string `json:"name"`
	Company    string `json:"company,omitempty"`
	Street     string `json:"street"`
	HouseNo    string `json:"house_no,omitempty"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type pendingOrderListResponse struct {
	Orders []pendingOrderPayload `json:"orders"`
}

type pendingOrderPageResponse struct {
	Items         []pendingOrderPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type pendingOrderResponse struct {
	Order pendingOrderPayload `json:"order"`
}

type pendingOrderPayload struct {
	ID                string                `json:"id"`
	OrderNumber       string                `json:"order_number"`
	CompanyID         string                `json:"company_id"`
	CampaignID        *string               `json:"campaign_id,omitempty"`
	UserID            string                `json:"user_id"`
	PostedOrderID     *string               `json:"posted_order_id,omitempty"`
	IsQueued          bool                  `json:"is_queued"`
	State             string                `json:"state"`
	Classification    string                `json:"classification"`
	Currency          string                `json:"currency,omitempty"`
	ShippingID        *string               `json:"shipping_id,omitempty"`
	Shipped           string                `json:"shipped,omitempty"`
	DeliveryDate      string                `json:"delivery_date,omitempty"`
	Comment           *string               `json:"comment,omitempty"`
	Description       *string               `json:"description,omitempty"`
	CostCenter        *string               `json:"cost_center,omitempty"`
	PlatformCode      int64                 `json:"platform_code,omitempty"`
	LanguageCode      int64                 `json:"language_code,omitempty"`
	ChannelCode       int64                 `json:"channel_code,omitempty"`
	Lines             []orderLinePayload    `json:"lines"`
	ShippingAddresses []orderAddressPayload `json:"shipping_addresses"`
	Billing           *orderAddressPayload  `json:"billing,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
	CreatedAt         string                `json:"created_at"`
	UpdatedAt         string                `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ArticleNumber    string `json:"article_number"`
	ArticleName      string `json:"article_name"`
	Quantity         int64  `json:"quantity"`
	UnitPrice        int64  `json:"unit_price"`
	Currency         string `json:"currency,omitempty"`
	VAT              int64  `json:"vat,omitempty"`
	Discount         int64  `json:"discount,omitempty"`
	NetPurchasePrice int64  `json:"net_purchase_price,omitempty"`
	LineTypeCode     int64  `json:"line_type_code,omitempty"`
}

func buildOrderSubmission(payload orderSubmissionPayload) (services.OrderSubmission, error) {
	submission := services.OrderSubmission{
		CompanyID:    strings.TrimSpace(payload.CompanyID),
		CampaignID:   copyStringPtr(payload.CampaignID),
		UserID:       strings.TrimSpace(payload.UserID),
		Currency:     strings.TrimSpace(payload.Currency),
		ShippingID:   copyStringPtr(payload.ShippingID),
		Comment:      copyStringPtr(payload.Comment),
		Description:  copyStringPtr(payload.Description),
		CostCenter:   copyStringPtr(payload.CostCenter),
		PlatformCode: payload.PlatformCode,
		LanguageCode: payload.LanguageCode,
		ChannelCode:  payload.ChannelCode,
		Lines:        buildOrderLineInputs(payload.Lines),
		Metadata:     copyStringMap(payload.Metadata),
	}

	if payload.Shipped != nil {
		ts, err := parseTimestamp(strings.TrimSpace(*payload.Shipped))
		if err != nil {
			return services.OrderSubmission{}, errors.New("shipped must be a valid RFC3339 timestamp")
		}
		submission.Shipped = &ts
	}
	if payload.DeliveryDate != nil {
		ts, err := parseTimestamp(strings.TrimSpace(*payload.DeliveryDate))
		if err != nil {
			return services.OrderSubmission{}, errors.New("delivery_date must be a valid RFC3339 timestamp")
		}
		submission.DeliveryDate = &ts
	}
	for _, addr := range payload.ShippingAddresses {
		submission.ShippingAddresses = append(submission.ShippingAddresses, buildAddress(addr))
	}
	if payload.Billing != nil {
		billing := buildAddress(*payload.Billing)
		submission.Billing = &billing
	}

	return submission, nil
}

func buildOrderLineInputs(lines []orderLineInputData) []services.OrderLineInput {
	if lines == nil {
		return nil
	}
	inputs := make([]services.OrderLineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, services.OrderLineInput{
			ArticleNumber:    strings.TrimSpace(line.ArticleNumber),
			ArticleName:      strings.TrimSpace(line.ArticleName),
			Quantity:         line.Quantity,
			VAT:              line.VAT,
			Discount:         line.Discount,
			NetPurchasePrice: line.NetPurchasePrice,
			LineTypeCode:     line.LineTypeCode,
		})
	}
	return inputs
}

func buildAddress(payload orderAddressPayload) services.Address {
	return services.Address{
		Name:       strings.TrimSpace(payload.Name),
		Company:    strings.TrimSpace(payload.Company),
		Street:     strings.TrimSpace(payload.Street),
		HouseNo:    strings.TrimSpace(payload.HouseNo),
		PostalCode: strings.TrimSpace(payload.PostalCode),
		City:       strings.TrimSpace(payload.City),
		Country:    strings.TrimSpace(payload.Country),
		Email:      strings.TrimSpace(payload.Email),
		Phone:      strings.TrimSpace(payload.Phone),
	}
}

func buildPendingOrderPayloads(orders []services.PendingOrder) []pendingOrderPayload {
	items := make([]pendingOrderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildPendingOrderPayload(order))
	}
	return items
}

func buildPendingOrderPayload(order services.PendingOrder) pendingOrderPayload {
	payload := pendingOrderPayload{
		ID:             strings.TrimSpace(order.ID),
		OrderNumber:    strings.TrimSpace(order.OrderNumber),
		CompanyID:      strings.TrimSpace(order.CompanyID),
		CampaignID:     copyStringPtr(order.CampaignID),
		UserID:         strings.TrimSpace(order.UserID),
		PostedOrderID:  copyStringPtr(order.PostedOrderID),
		IsQueued:       order.IsQueued,
		State:          string(order.ResolveState()),
		Classification: string(order.Classification()),
		Currency:       strings.TrimSpace(order.Currency),
		ShippingID:     copyStringPtr(order.ShippingID),
		Shipped:        timestamp(derefTime(order.Shipped)),
		DeliveryDate:   timestamp(derefTime(order.DeliveryDate)),
		Comment:        copyStringPtr(order.Comment),
		Description:    copyStringPtr(order.Description),
		CostCenter:     copyStringPtr(order.CostCenter),
		PlatformCode:   order.PlatformCode,
		LanguageCode:   order.LanguageCode,
		ChannelCode:    order.ChannelCode,
		Lines:          make([]orderLinePayload, 0, len(order.Lines)),
		Metadata:       copyStringMap(order.Metadata),
		CreatedAt:      timestamp(order.CreatedAt),
		UpdatedAt:      timestamp(order.UpdatedAt),
	}

	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ArticleNumber:    line.ArticleNumber,
			ArticleName:      line.ArticleName,
			Quantity:         line.Quantity,
			UnitPrice:        line.UnitPrice,
			Currency:         line.Currency,
			VAT:              line.VAT,
			Discount:         line.Discount,
			NetPurchasePrice: line.NetPurchasePrice,
			LineTypeCode:     line.LineTypeCode,
		})
	}

	payload.ShippingAddresses = make([]orderAddressPayload, 0, len(order.ShippingAddresses))
	for _, addr := range order.ShippingAddresses {
		payload.ShippingAddresses = append(payload.ShippingAddresses, buildAddressPayload(addr))
	}
	if order.Billing != nil {
		addr := buildAddressPayload(*order.Billing)
		payload.Billing = &addr
	}

	return payload
}

func buildAddressPayload(addr services.Address) orderAddressPayload {
	return orderAddressPayload{
		Name:       addr.Name,
		Company:    addr.Company,
		Street:     addr.Street,
		HouseNo:    addr.HouseNo,
		PostalCode: addr.PostalCode,
		City:       addr.City,
		Country:    addr.Country,
		Email:      addr.Email,
		Phone:      addr.Phone,
	}
}

func writePendingOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var adapterErr *services.AdapterError
	if errors.As(err, &adapterErr) {
		httpx.WriteError(ctx, w, httpx.NewError("import_rejected", adapterErr.Error(), http.StatusBadRequest).WithDetails(map[string]any{
			"source": adapterErr.Source,
		}))
		return
	}

	var lineErr *services.LineValidationError
	if errors.As(err, &lineErr) {
		details := map[string]any{
			"kind":           string(lineErr.Kind),
			"article_number": lineErr.ArticleNumber,
			"article_name":   lineErr.ArticleName,
			"quantity":       lineErr.Quantity,
		}
		if lineErr.Kind == services.LineValidationArticleNotFound {
			httpx.WriteError(ctx, w, httpx.NewError("article_not_found", lineErr.Error(), http.StatusNotFound).WithDetails(details))
			return
		}
		details["threshold"] = lineErr.Threshold
		httpx.WriteError(ctx, w, httpx.NewError("order_line_invalid", lineErr.Error(), http.StatusUnprocessableEntity).WithDetails(details))
		return
	}

	switch {
	case errors.Is(err, services.ErrMissingPermissions):
		httpx.WriteError(ctx, w, httpx.NewError("missing_permissions", services.ErrMissingPermissions.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrDuplicateRestricted):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_restricted", services.ErrDuplicateRestricted.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrCompanyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("company_mismatch", services.ErrCompanyMismatch.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrCatalogueOrderImmutable):
		httpx.WriteError(ctx, w, httpx.NewError("catalogue_order_immutable", services.ErrCatalogueOrderImmutable.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderPostedOrQueued):
		httpx.WriteError(ctx, w, httpx.NewError("order_posted_or_queued", services.ErrOrderPostedOrQueued.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrPendingOrdersNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("pending_orders_not_found", services.ErrPendingOrdersNotFound.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_not_found", "pending order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("pending_order_error", "failed to process pending order request", http.StatusInternalServerError))
	}
}
