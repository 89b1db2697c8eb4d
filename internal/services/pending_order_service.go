package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merchkit/api/internal/domain"
	"github.com/merchkit/api/internal/repositories"
)

const (
	orderEventCreated    = "pending_order.created"
	orderEventUpdated    = "pending_order.updated"
	orderEventDeleted    = "pending_order.deleted"
	orderEventDuplicated = "pending_order.duplicated"

	orderIDPrefix = "po_"

	orderNumberCounter = "pending_orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("pending order: invalid input")
	// ErrOrderNotFound indicates a single pending order could not be located.
	ErrOrderNotFound = errors.New("pending order not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("pending order: conflict")

	// ErrMissingPermissions denies actors outside the order's access scope.
	ErrMissingPermissions = errors.New("You do not have the necessary permissions to perform this action")
	// ErrDuplicateRestricted denies duplication to plain users regardless of ownership.
	ErrDuplicateRestricted = errors.New("Only admin, company admin or campaign manager can perform this action")
	// ErrCompanyMismatch rejects duplication batches spanning foreign companies.
	ErrCompanyMismatch = errors.New("All orders must belong to the same company as the user")
	// ErrPendingOrdersNotFound rejects duplication batches with unresolved references.
	ErrPendingOrdersNotFound = errors.New("Pending orders not found")
	// ErrCatalogueOrderImmutable blocks deletion of catalogue template orders for every actor.
	ErrCatalogueOrderImmutable = errors.New("cannot perform this action for a catalogue pending order")
	// ErrOrderPostedOrQueued blocks deletion once an order left the open state.
	ErrOrderPostedOrQueued = errors.New("cannot perform this action for a posted or queued order")
)

// PendingOrderServiceDeps bundles collaborators required to construct the pending order service.
type PendingOrderServiceDeps struct {
	Orders      repositories.PendingOrderRepository
	Counters    repositories.CounterRepository
	Catalog     CatalogService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// OrderEventPublisher publishes pending order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted pending order domain events.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	CompanyID   string
	CampaignID  *string
	ActorID     string
	OccurredAt  time.Time
	Metadata    map[string]any
}

type pendingOrderService struct {
	orders     repositories.PendingOrderRepository
	counters   repositories.CounterRepository
	validator  *lineValidator
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

var _ PendingOrderService = (*pendingOrderService)(nil)

// NewPendingOrderService wires dependencies into a concrete PendingOrderService implementation.
func NewPendingOrderService(deps PendingOrderServiceDeps) (PendingOrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("pending order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("pending order service: counter repository is required")
	}
	validator, err := newLineValidator(deps.Catalog)
	if err != nil {
		return nil, fmt.Errorf("pending order service: %w", err)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pendingOrderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		validator:  validator,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateOrders validates every submission line against the catalog and
// persists the whole batch in a single transaction. The first failing
// line rejects the entire batch.
func (s *pendingOrderService) CreateOrders(ctx context.Context, actor Actor, submissions []OrderSubmission) ([]PendingOrder, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return nil, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	if len(submissions) == 0 {
		return nil, fmt.Errorf("%w: at least one order submission is required", ErrOrderInvalidInput)
	}

	now := s.now()
	orders := make([]PendingOrder, 0, len(submissions))

	for _, submission := range submissions {
		order, err := s.buildOrder(ctx, actor, submission, now)
		if err != nil {
			// The first failing line rejects the whole batch; earlier
			// submissions are discarded with it.
			return nil, err
		}
		orders = append(orders, order)
	}

	for i := range orders {
		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return nil, err
		}
		orders[i].OrderNumber = number
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		for _, order := range orders {
			if err := s.orders.Insert(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, order := range orders {
		s.publishEvent(ctx, OrderEvent{
			Type:        orderEventCreated,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CompanyID:   order.CompanyID,
			CampaignID:  cloneStringPtr(order.CampaignID),
			ActorID:     actor.ID,
			OccurredAt:  now,
		})
	}

	return orders, nil
}

// GetOrder loads a single pending order for actors inside its access scope.
func (s *pendingOrderService) GetOrder(ctx context.Context, actor Actor, orderID string) (PendingOrder, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return PendingOrder{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return PendingOrder{}, err
	}
	return order, nil
}

// ListOrders returns pending orders scoped to what the actor may see.
func (s *pendingOrderService) ListOrders(ctx context.Context, actor Actor, filter PendingOrderListFilter) (domain.CursorPage[PendingOrder], error) {
	if strings.TrimSpace(actor.ID) == "" {
		return domain.CursorPage[PendingOrder]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	repoFilter := repositories.PendingOrderListFilter{
		CampaignID: cloneStringPtr(filter.CampaignID),
		States:     append([]OrderState(nil), filter.States...),
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: filter.Pagination,
	}

	switch actor.Role {
	case RoleAdmin:
		// Admins see everything.
	case RoleCompanyAdministrator, RoleCampaignManager:
		repoFilter.CompanyID = actor.CompanyID
	default:
		repoFilter.UserID = actor.ID
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[PendingOrder]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// UpdateOrder applies a partial update. Updates carry no lifecycle
// restriction; queued and posted orders stay editable.
func (s *pendingOrderService) UpdateOrder(ctx context.Context, actor Actor, cmd UpdateOrderCommand) (PendingOrder, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return PendingOrder{}, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return PendingOrder{}, err
	}

	now := s.now()
	if cmd.Shipped != nil {
		shipped := cmd.Shipped.UTC()
		order.Shipped = &shipped
	}
	if cmd.DeliveryDate != nil {
		deliveryDate := cmd.DeliveryDate.UTC()
		order.DeliveryDate = &deliveryDate
	}
	if cmd.Comment != nil {
		order.Comment = optionalString(strings.TrimSpace(*cmd.Comment))
	}
	if cmd.Description != nil {
		order.Description = optionalString(strings.TrimSpace(*cmd.Description))
	}
	if cmd.CostCenter != nil {
		order.CostCenter = optionalString(strings.TrimSpace(*cmd.CostCenter))
	}
	if cmd.ShippingAddresses != nil {
		// The list is replaced wholesale; an order never loses its last
		// shipping address.
		if len(cmd.ShippingAddresses) == 0 {
			return PendingOrder{}, fmt.Errorf("%w: order requires at least one shipping address", ErrOrderInvalidInput)
		}
		order.ShippingAddresses = cloneAddresses(cmd.ShippingAddresses)
	}
	if cmd.Billing != nil {
		order.Billing = cloneAddress(cmd.Billing)
	}
	if cmd.Metadata != nil {
		order.Metadata = maps.Clone(cmd.Metadata)
	}
	if cmd.Lines != nil {
		lines, err := s.validateLines(ctx, cmd.Lines)
		if err != nil {
			return PendingOrder{}, err
		}
		order.Lines = lines
	}
	order.UpdatedAt = now
	order.State = order.ResolveState()

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return PendingOrder{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventUpdated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CompanyID:   order.CompanyID,
		CampaignID:  cloneStringPtr(order.CampaignID),
		ActorID:     actor.ID,
		OccurredAt:  now,
	})

	return order, nil
}

// DeleteOrder removes an open campaign order. The lifecycle gate is
// evaluated twice: once on the loaded snapshot and again inside the
// delete transaction against fresh state.
func (s *pendingOrderService) DeleteOrder(ctx context.Context, actor Actor, orderID string) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return err
	}
	if err := checkDeletable(order); err != nil {
		return err
	}

	now := s.now()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := checkDeletable(current); err != nil {
			return err
		}
		if err := s.orders.Delete(txCtx, order.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventDeleted,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CompanyID:   order.CompanyID,
		CampaignID:  cloneStringPtr(order.CampaignID),
		ActorID:     actor.ID,
		OccurredAt:  now,
	})

	return nil
}

// DuplicateOrders clones posted orders back into open drafts. Resolution
// is all-or-nothing: one unresolved reference rejects the whole request.
func (s *pendingOrderService) DuplicateOrders(ctx context.Context, actor Actor, refs []DuplicateOrderRef) ([]PendingOrder, error) {
	// The role gate fires before any lookup so plain users learn nothing
	// about which order ids exist.
	if !actor.IsPrivileged() {
		return nil, ErrDuplicateRestricted
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: at least one order reference is required", ErrOrderInvalidInput)
	}

	type duplicationSource struct {
		order PendingOrder
		ref   DuplicateOrderRef
	}

	// A posted order id may resolve to several pending orders; every
	// match is cloned. Zero matches for any ref fails the whole request.
	sources := make([]duplicationSource, 0, len(refs))
	for _, ref := range refs {
		orderID := strings.TrimSpace(ref.OrderID)
		if orderID == "" {
			return nil, ErrPendingOrdersNotFound
		}
		matches, err := s.orders.FindByPostedOrderID(ctx, orderID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, ErrPendingOrdersNotFound
			}
			return nil, s.mapRepositoryError(err)
		}
		if len(matches) == 0 {
			return nil, ErrPendingOrdersNotFound
		}
		for _, match := range matches {
			sources = append(sources, duplicationSource{order: match, ref: ref})
		}
	}

	if actor.Role != RoleAdmin {
		for _, source := range sources {
			if source.order.CompanyID != actor.CompanyID {
				return nil, ErrCompanyMismatch
			}
		}
	}

	now := s.now()
	clones := make([]PendingOrder, 0, len(sources))
	for _, source := range sources {
		clone := clonePendingOrder(source.order)
		clone.ID = s.nextOrderID()
		clone.PostedOrderID = nil
		clone.IsQueued = false
		clone.State = domain.OrderStateOpen
		clone.Shipped = normalizeShipped(source.ref.Shipped)
		clone.CreatedAt = now
		clone.UpdatedAt = now

		// Clones are re-validated and re-priced against the current
		// catalog; the source lines may predate catalog drift.
		lines, err := s.validateLines(ctx, lineInputsFromLines(clone.Lines))
		if err != nil {
			return nil, err
		}
		clone.Lines = lines

		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return nil, err
		}
		clone.OrderNumber = number
		clones = append(clones, clone)
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		for _, clone := range clones {
			if err := s.orders.Insert(txCtx, clone); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, clone := range clones {
		s.publishEvent(ctx, OrderEvent{
			Type:        orderEventDuplicated,
			OrderID:     clone.ID,
			OrderNumber: clone.OrderNumber,
			CompanyID:   clone.CompanyID,
			CampaignID:  cloneStringPtr(clone.CampaignID),
			ActorID:     actor.ID,
			OccurredAt:  now,
			Metadata: map[string]any{
				"sourceOrderId":       sources[i].order.ID,
				"sourcePostedOrderId": strings.TrimSpace(sources[i].ref.OrderID),
			},
		})
	}

	return clones, nil
}

// authorizeOrderAccess implements the shared read/update/delete policy.
func authorizeOrderAccess(actor Actor, order PendingOrder) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	if strings.TrimSpace(actor.ID) != "" && actor.ID == order.UserID {
		return nil
	}
	switch actor.Role {
	case RoleCompanyAdministrator, RoleCampaignManager:
		if strings.TrimSpace(actor.CompanyID) != "" && actor.CompanyID == order.CompanyID {
			return nil
		}
	}
	return ErrMissingPermissions
}

// checkDeletable is the lifecycle gate for deletion. Catalogue orders are
// never deletable, not even for admins; queued and posted orders are
// frozen for everyone.
func checkDeletable(order PendingOrder) error {
	if order.Classification() == domain.OrderClassificationCatalogue {
		return ErrCatalogueOrderImmutable
	}
	if order.ResolveState() != domain.OrderStateOpen {
		return ErrOrderPostedOrQueued
	}
	return nil
}

func (s *pendingOrderService) buildOrder(ctx context.Context, actor Actor, submission OrderSubmission, now time.Time) (PendingOrder, error) {
	if len(submission.Lines) == 0 {
		return PendingOrder{}, fmt.Errorf("%w: order requires at least one line", ErrOrderInvalidInput)
	}
	if len(submission.ShippingAddresses) == 0 {
		return PendingOrder{}, fmt.Errorf("%w: order requires at least one shipping address", ErrOrderInvalidInput)
	}

	companyID := strings.TrimSpace(submission.CompanyID)
	if companyID == "" {
		companyID = strings.TrimSpace(actor.CompanyID)
	}
	if companyID == "" {
		return PendingOrder{}, fmt.Errorf("%w: company id is required", ErrOrderInvalidInput)
	}
	if actor.Role != RoleAdmin && strings.TrimSpace(actor.CompanyID) != "" && companyID != actor.CompanyID {
		return PendingOrder{}, ErrMissingPermissions
	}

	userID := strings.TrimSpace(submission.UserID)
	if userID == "" {
		userID = actor.ID
	}

	lines, err := s.validateLines(ctx, submission.Lines)
	if err != nil {
		return PendingOrder{}, err
	}

	order := PendingOrder{
		ID:                s.nextOrderID(),
		CompanyID:         companyID,
		CampaignID:        cloneStringPtr(submission.CampaignID),
		UserID:            userID,
		Currency:          strings.TrimSpace(submission.Currency),
		ShippingID:        cloneStringPtr(submission.ShippingID),
		Shipped:           normalizeShipped(submission.Shipped),
		DeliveryDate:      normalizeShipped(submission.DeliveryDate),
		Comment:           cloneStringPtr(submission.Comment),
		Description:       cloneStringPtr(submission.Description),
		CostCenter:        cloneStringPtr(submission.CostCenter),
		PlatformCode:      submission.PlatformCode,
		LanguageCode:      submission.LanguageCode,
		ChannelCode:       submission.ChannelCode,
		Lines:             lines,
		ShippingAddresses: cloneAddresses(submission.ShippingAddresses),
		Billing:           cloneAddress(submission.Billing),
		Metadata:          cloneStringMap(submission.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
		State:             domain.OrderStateOpen,
	}
	return order, nil
}

func (s *pendingOrderService) validateLines(ctx context.Context, inputs []OrderLineInput) ([]OrderLine, error) {
	lines := make([]OrderLine, 0, len(inputs))
	for _, input := range inputs {
		line, err := s.validator.ValidateLine(ctx, input)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *pendingOrderService) loadOrder(ctx context.Context, orderID string) (PendingOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PendingOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PendingOrder{}, s.mapRepositoryError(err)
	}
	order.State = order.ResolveState()
	return order, nil
}

func (s *pendingOrderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("pending order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *pendingOrderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PO-%04d-%06d", now.Year(), seq), nil
}

func (s *pendingOrderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *pendingOrderService) now() time.Time {
	return s.clock()
}

func (s *pendingOrderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *pendingOrderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "pending_order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func clonePendingOrder(order PendingOrder) PendingOrder {
	clone := order
	clone.CampaignID = cloneStringPtr(order.CampaignID)
	clone.PostedOrderID = cloneStringPtr(order.PostedOrderID)
	clone.ShippingID = cloneStringPtr(order.ShippingID)
	clone.Comment = cloneStringPtr(order.Comment)
	clone.Description = cloneStringPtr(order.Description)
	clone.CostCenter = cloneStringPtr(order.CostCenter)
	clone.Shipped = cloneTimePtr(order.Shipped)
	clone.DeliveryDate = cloneTimePtr(order.DeliveryDate)
	clone.Lines = cloneOrderLines(order.Lines)
	clone.ShippingAddresses = cloneAddresses(order.ShippingAddresses)
	clone.Billing = cloneAddress(order.Billing)
	clone.Metadata = cloneStringMap(order.Metadata)
	return clone
}

// lineInputsFromLines turns persisted lines back into validator inputs
// so clones run through the same catalog rules as fresh submissions.
func lineInputsFromLines(lines []OrderLine) []OrderLineInput {
	inputs := make([]OrderLineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, OrderLineInput{
			ArticleNumber:    line.ArticleNumber,
			ArticleName:      line.ArticleName,
			Quantity:         line.Quantity,
			VAT:              line.VAT,
			Discount:         line.Discount,
			NetPurchasePrice: line.NetPurchasePrice,
			LineTypeCode:     line.LineTypeCode,
		})
	}
	return inputs
}

func cloneOrderLines(lines []OrderLine) []OrderLine {
	if len(lines) == 0 {
		return nil
	}
	cloned := make([]OrderLine, len(lines))
	copy(cloned, lines)
	return cloned
}

func cloneAddresses(addrs []Address) []Address {
	if len(addrs) == 0 {
		return nil
	}
	cloned := make([]Address, len(addrs))
	copy(cloned, addrs)
	return cloned
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	ts := *value
	return &ts
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func normalizeShipped(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
