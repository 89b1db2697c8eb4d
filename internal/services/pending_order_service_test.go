package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/merchkit/api/internal/domain"
	"github.com/merchkit/api/internal/repositories"
)

type stubPendingOrderRepo struct {
	insertFn       func(context.Context, domain.PendingOrder) error
	updateFn       func(context.Context, domain.PendingOrder) error
	deleteFn       func(context.Context, string) error
	findFn         func(context.Context, string) (domain.PendingOrder, error)
	findByPostedFn func(context.Context, string) ([]domain.PendingOrder, error)
	listFn         func(context.Context, repositories.PendingOrderListFilter) (domain.CursorPage[domain.PendingOrder], error)
}

func (s *stubPendingOrderRepo) Insert(ctx context.Context, order domain.PendingOrder) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubPendingOrderRepo) Update(ctx context.Context, order domain.PendingOrder) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubPendingOrderRepo) Delete(ctx context.Context, orderID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID)
	}
	return nil
}

func (s *stubPendingOrderRepo) FindByID(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.PendingOrder{}, errors.New("not implemented")
}

func (s *stubPendingOrderRepo) FindByPostedOrderID(ctx context.Context, postedOrderID string) ([]domain.PendingOrder, error) {
	if s.findByPostedFn != nil {
		return s.findByPostedFn(ctx, postedOrderID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubPendingOrderRepo) List(ctx context.Context, filter repositories.PendingOrderListFilter) (domain.CursorPage[domain.PendingOrder], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.PendingOrder]{}, nil
}

type stubProductRepo struct {
	findFn func(context.Context, string) (domain.Product, error)
}

func (s *stubProductRepo) FindByArticleNumber(ctx context.Context, articleNumber string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, articleNumber)
	}
	return domain.Product{}, errors.New("not implemented")
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }

func fixedClock() func() time.Time {
	now := time.Date(2025, 7, 14, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func strPtr(v string) *string { return &v }

func testShippingAddresses() []Address {
	return []Address{{Name: "Depot Nord", Street: "Hafenstraße 12", PostalCode: "20095", City: "Hamburg", Country: "DE"}}
}

func int64Ptr(v int64) *int64 { return &v }

func catalogWith(products map[string]domain.Product) CatalogService {
	svc, err := NewCatalogService(CatalogServiceDeps{Products: &stubProductRepo{
		findFn: func(_ context.Context, articleNumber string) (domain.Product, error) {
			product, ok := products[articleNumber]
			if !ok {
				return domain.Product{}, notFoundRepoError{}
			}
			return product, nil
		},
	}})
	if err != nil {
		panic(err)
	}
	return svc
}

func newTestService(t *testing.T, repo *stubPendingOrderRepo, catalog CatalogService, events OrderEventPublisher) PendingOrderService {
	t.Helper()
	if catalog == nil {
		catalog = catalogWith(nil)
	}
	svc, err := NewPendingOrderService(PendingOrderServiceDeps{
		Orders: repo,
		Counters: &stubCounterRepo{
			nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
				if counterID != "pending_orders" {
					t.Fatalf("unexpected counter id %s", counterID)
				}
				if step != 1 {
					t.Fatalf("unexpected step %d", step)
				}
				return 42, nil
			},
		},
		Catalog:     catalog,
		UnitOfWork:  &stubUnitOfWork{},
		Clock:       fixedClock(),
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new pending order service: %v", err)
	}
	return svc
}

func TestCreateOrdersAcceptsQuantityAtMinimum(t *testing.T) {
	catalog := catalogWith(map[string]domain.Product{
		"ART-10": {ArticleNumber: "ART-10", Name: "Gußkarte", MinimumOrderQuantity: int64Ptr(10)},
	})
	inserted := make([]domain.PendingOrder, 0, 1)
	repo := &stubPendingOrderRepo{
		insertFn: func(_ context.Context, order domain.PendingOrder) error {
			inserted = append(inserted, order)
			return nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestService(t, repo, catalog, events)

	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}
	orders, err := svc.CreateOrders(context.Background(), actor, []OrderSubmission{{
		CampaignID: strPtr("camp-1"),
		ShippingAddresses: testShippingAddresses(),
		Lines:      []OrderLineInput{{ArticleNumber: "ART-10", Quantity: 10}},
	}})
	if err != nil {
		t.Fatalf("create orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].ID != "po_000TEST" {
		t.Fatalf("unexpected order id %s", orders[0].ID)
	}
	if orders[0].OrderNumber != "PO-2025-000042" {
		t.Fatalf("unexpected order number %s", orders[0].OrderNumber)
	}
	if orders[0].State != domain.OrderStateOpen {
		t.Fatalf("expected open state, got %s", orders[0].State)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(inserted))
	}
	if len(events.events) != 1 || events.events[0].Type != "pending_order.created" {
		t.Fatalf("expected one created event, got %#v", events.events)
	}
}

func TestCreateOrdersRejectsQuantityBelowMinimum(t *testing.T) {
	catalog := catalogWith(map[string]domain.Product{
		"ART-10": {ArticleNumber: "ART-10", Name: "Gußkarte", MinimumOrderQuantity: int64Ptr(10)},
	})
	repo := &stubPendingOrderRepo{
		insertFn: func(context.Context, domain.PendingOrder) error {
			t.Fatal("insert must not be called for a rejected batch")
			return nil
		},
	}
	svc := newTestService(t, repo, catalog, nil)

	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}
	_, err := svc.CreateOrders(context.Background(), actor, []OrderSubmission{{
		CampaignID: strPtr("camp-1"),
		ShippingAddresses: testShippingAddresses(),
		Lines:      []OrderLineInput{{ArticleNumber: "ART-10", Quantity: 1}},
	}})

	var lineErr *LineValidationError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected line validation error, got %v", err)
	}
	if lineErr.Kind != LineValidationBelowMinimumQuantity {
		t.Fatalf("expected BelowMinimumQuantity, got %s", lineErr.Kind)
	}
	if lineErr.Threshold != 10 {
		t.Fatalf("expected threshold 10, got %d", lineErr.Threshold)
	}
	if lineErr.ArticleName != "Gußkarte" {
		t.Fatalf("expected article name in error, got %q", lineErr.ArticleName)
	}
}

func TestCreateOrdersCeilingBoundary(t *testing.T) {
	catalog := catalogWith(map[string]domain.Product{
		"ART-20": {
			ArticleNumber:        "ART-20",
			Name:                 "Marmelade",
			IsExceedStockEnabled: true,
			GraduatedPrices: []domain.GraduatedPriceTier{
				{FirstUnit: 1, LastUnit: 10, UnitPrice: 250, Currency: "EUR"},
			},
		},
	})
	repo := &stubPendingOrderRepo{}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}

	// Quantity equal to the ceiling is accepted.
	if _, err := svc.CreateOrders(context.Background(), actor, []OrderSubmission{{
		CampaignID: strPtr("camp-1"),
		ShippingAddresses: testShippingAddresses(),
		Lines:      []OrderLineInput{{ArticleNumber: "ART-20", Quantity: 10}},
	}}); err != nil {
		t.Fatalf("quantity at ceiling should pass: %v", err)
	}

	// One above the ceiling is rejected with the ceiling value.
	_, err := svc.CreateOrders(context.Background(), actor, []OrderSubmission{{
		CampaignID: strPtr("camp-1"),
		ShippingAddresses: testShippingAddresses(),
		Lines:      []OrderLineInput{{ArticleNumber: "ART-20", Quantity: 11}},
	}})
	var lineErr *LineValidationError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected line validation error, got %v", err)
	}
	if lineErr.Kind != LineValidationAboveMaximumQuantity {
		t.Fatalf("expected AboveMaximumQuantity, got %s", lineErr.Kind)
	}
	if lineErr.Threshold != 10 {
		t.Fatalf("expected ceiling 10, got %d", lineErr.Threshold)
	}
}

func TestCreateOrdersNoLimitsAcceptsSingleUnit(t *testing.T) {
	catalog := catalogWith(map[string]domain.Product{
		"ART-WB": {ArticleNumber: "ART-WB", Name: "Welcome Box"},
	})
	repo := &stubPendingOrderRepo{}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}

	orders, err := svc.CreateOrders(context.Background(), actor, []OrderSubmission{{
		CampaignID: strPtr("camp-1"),
		ShippingAddresses: testShippingAddresses(),
		Lines:      []OrderLineInput{{ArticleNumber: "ART-WB", Quantity: 1}},
	}})
	if err != nil {
		t.Fatalf("create orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Lines[0].Quantity != 1 {
		t.Fatalf("unexpected result %#v", orders)
	}
}

func TestCreateOrdersUnknownArticleRejectsBatch(t *testing.T) {
	catalog := catalogWith(map[string]domain.Product{
		"ART-WB": {ArticleNumber: "ART-WB", Name: "Welcome Box"},
	})
	inserts := 0
	repo := &stubPendingOrderRepo{
		insertFn: func(context.Context, domain.PendingOrder) error {
			inserts++
			return nil
		},
	}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}

	_, err := svc.CreateOrders(context.Background(), actor, []OrderSubmission{
		{CampaignID: strPtr("camp-1"), ShippingAddresses: testShippingAddresses(), Lines: []OrderLineInput{{ArticleNumber: "ART-WB", Quantity: 1}}},
		{CampaignID: strPtr("camp-1"), ShippingAddresses: testShippingAddresses(), Lines: []OrderLineInput{{ArticleNumber: "ART-MISSING", ArticleName: "Mystery", Quantity: 1}}},
	})

	var lineErr *LineValidationError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected line validation error, got %v", err)
	}
	if lineErr.Kind != LineValidationArticleNotFound {
		t.Fatalf("expected ArticleNotFound, got %s", lineErr.Kind)
	}
	if lineErr.ArticleNumber != "ART-MISSING" || lineErr.ArticleName != "Mystery" {
		t.Fatalf("expected article identity on error, got %#v", lineErr)
	}
	if inserts != 0 {
		t.Fatalf("expected no inserts for rejected batch, got %d", inserts)
	}
}

func TestDeleteOrderCatalogueDeniedForAdmin(t *testing.T) {
	repo := &stubPendingOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.PendingOrder, error) {
			return domain.PendingOrder{ID: orderID, CompanyID: "comp-1", UserID: "user-1"}, nil
		},
		deleteFn: func(context.Context, string) error {
			t.Fatal("delete must not be called for catalogue orders")
			return nil
		},
	}
	svc := newTestService(t, repo, nil, nil)

	for _, role := range []Role{RoleAdmin, RoleCompanyAdministrator, RoleCampaignManager, RoleUser} {
		actor := Actor{ID: "user-1", Role: role, CompanyID: "comp-1"}
		err := svc.DeleteOrder(context.Background(), actor, "po_1")
		if !errors.Is(err, ErrCatalogueOrderImmutable) {
			t.Fatalf("role %s: expected catalogue denial, got %v", role, err)
		}
	}
}

func TestDeleteOrderPostedOrQueuedDeniedForOwner(t *testing.T) {
	posted := "ord_99"
	cases := map[string]domain.PendingOrder{
		"posted": {ID: "po_1", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", PostedOrderID: &posted},
		"queued": {ID: "po_1", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", IsQueued: true},
	}
	for name, order := range cases {
		order := order
		repo := &stubPendingOrderRepo{
			findFn: func(context.Context, string) (domain.PendingOrder, error) {
				return order, nil
			},
		}
		svc := newTestService(t, repo, nil, nil)
		actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}
		err := svc.DeleteOrder(context.Background(), actor, "po_1")
		if !errors.Is(err, ErrOrderPostedOrQueued) {
			t.Fatalf("%s: expected posted-or-queued denial, got %v", name, err)
		}
	}
}

func TestDeleteOrderRechecksStateInsideTransaction(t *testing.T) {
	queued := false
	repo := &stubPendingOrderRepo{
		findFn: func(context.Context, string) (domain.PendingOrder, error) {
			order := domain.PendingOrder{ID: "po_1", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", IsQueued: queued}
			// The order gets queued between the first load and the transaction.
			queued = true
			return order, nil
		},
		deleteFn: func(context.Context, string) error {
			t.Fatal("delete must not run once the order is queued")
			return nil
		},
	}
	svc := newTestService(t, repo, nil, nil)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}
	err := svc.DeleteOrder(context.Background(), actor, "po_1")
	if !errors.Is(err, ErrOrderPostedOrQueued) {
		t.Fatalf("expected posted-or-queued denial from the transactional recheck, got %v", err)
	}
}

func TestDeleteOrderRemovesOpenCampaignOrder(t *testing.T) {
	deleted := ""
	repo := &stubPendingOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.PendingOrder, error) {
			return domain.PendingOrder{ID: orderID, CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1"}, nil
		},
		deleteFn: func(_ context.Context, orderID string) error {
			deleted = orderID
			return nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestService(t, repo, nil, events)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}
	if err := svc.DeleteOrder(context.Background(), actor, "po_1"); err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if deleted != "po_1" {
		t.Fatalf("expected po_1 deleted, got %q", deleted)
	}
	if len(events.events) != 1 || events.events[0].Type != "pending_order.deleted" {
		t.Fatalf("expected deleted event, got %#v", events.events)
	}
}

func TestAccessPolicyAcrossRoles(t *testing.T) {
	order := domain.PendingOrder{ID: "po_1", CompanyID: "comp-a", CampaignID: strPtr("camp-1"), UserID: "owner-1"}
	repo := &stubPendingOrderRepo{
		findFn: func(context.Context, string) (domain.PendingOrder, error) {
			return order, nil
		},
	}
	svc := newTestService(t, repo, nil, nil)

	cases := []struct {
		name    string
		actor   Actor
		allowed bool
	}{
		{"admin", Actor{ID: "admin-1", Role: RoleAdmin}, true},
		{"owner", Actor{ID: "owner-1", Role: RoleUser, CompanyID: "comp-a"}, true},
		{"company admin same company", Actor{ID: "ca-1", Role: RoleCompanyAdministrator, CompanyID: "comp-a"}, true},
		{"campaign manager same company", Actor{ID: "cm-1", Role: RoleCampaignManager, CompanyID: "comp-a"}, true},
		{"campaign manager other company", Actor{ID: "cm-2", Role: RoleCampaignManager, CompanyID: "comp-b"}, false},
		{"unrelated user", Actor{ID: "user-2", Role: RoleUser, CompanyID: "comp-a"}, false},
	}

	for _, tc := range cases {
		_, err := svc.GetOrder(context.Background(), tc.actor, "po_1")
		if tc.allowed && err != nil {
			t.Fatalf("%s: expected access, got %v", tc.name, err)
		}
		if !tc.allowed && !errors.Is(err, ErrMissingPermissions) {
			t.Fatalf("%s: expected permission denial, got %v", tc.name, err)
		}
	}
}

func TestUpdateOrderAllowedForQueuedOrder(t *testing.T) {
	var updated domain.PendingOrder
	repo := &stubPendingOrderRepo{
		findFn: func(context.Context, string) (domain.PendingOrder, error) {
			return domain.PendingOrder{ID: "po_1", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", IsQueued: true}, nil
		},
		updateFn: func(_ context.Context, order domain.PendingOrder) error {
			updated = order
			return nil
		},
	}
	svc := newTestService(t, repo, nil, nil)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}

	comment := "deliver to rear entrance"
	order, err := svc.UpdateOrder(context.Background(), actor, UpdateOrderCommand{
		OrderID: "po_1",
		Comment: &comment,
	})
	if err != nil {
		t.Fatalf("update order: %v", err)
	}
	if order.Comment == nil || *order.Comment != comment {
		t.Fatalf("expected comment applied, got %#v", order.Comment)
	}
	if updated.ID != "po_1" {
		t.Fatalf("expected update persisted, got %#v", updated)
	}
	if order.State != domain.OrderStateQueued {
		t.Fatalf("expected queued state preserved, got %s", order.State)
	}
}

func TestCreateOrdersRequiresShippingAddress(t *testing.T) {
	catalog := catalogWith(map[string]domain.Product{
		"ART-WB": {ArticleNumber: "ART-WB", Name: "Welcome Box"},
	})
	repo := &stubPendingOrderRepo{
		insertFn: func(context.Context, domain.PendingOrder) error {
			t.Fatal("insert must not run for an order without a shipping address")
			return nil
		},
	}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}

	_, err := svc.CreateOrders(context.Background(), actor, []OrderSubmission{{
		CampaignID: strPtr("camp-1"),
		Lines:      []OrderLineInput{{ArticleNumber: "ART-WB", Quantity: 1}},
	}})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for missing shipping address, got %v", err)
	}
}

func TestDuplicateOrdersDeniedForUserBeforeLookup(t *testing.T) {
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(context.Context, string) ([]domain.PendingOrder, error) {
			t.Fatal("lookup must not run for plain users")
			return nil, nil
		},
	}
	svc := newTestService(t, repo, nil, nil)
	actor := Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}

	_, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{{OrderID: "ord_1"}})
	if !errors.Is(err, ErrDuplicateRestricted) {
		t.Fatalf("expected role denial, got %v", err)
	}
}

func TestDuplicateOrdersAllOrNothing(t *testing.T) {
	posted := "ord_1"
	inserts := 0
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(_ context.Context, postedOrderID string) ([]domain.PendingOrder, error) {
			if postedOrderID == "ord_1" {
				return []domain.PendingOrder{{ID: "po_1", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", PostedOrderID: &posted}}, nil
			}
			return nil, nil
		},
		insertFn: func(context.Context, domain.PendingOrder) error {
			inserts++
			return nil
		},
	}
	svc := newTestService(t, repo, nil, nil)
	actor := Actor{ID: "cm-1", Role: RoleCampaignManager, CompanyID: "comp-1"}

	_, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{
		{OrderID: "ord_1"},
		{OrderID: "ord_2"},
	})
	if !errors.Is(err, ErrPendingOrdersNotFound) {
		t.Fatalf("expected not-found rejection, got %v", err)
	}
	if inserts != 0 {
		t.Fatalf("expected zero clones created, got %d", inserts)
	}
}

func TestDuplicateOrdersForeignCompanyDenied(t *testing.T) {
	posted := "ord_1"
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(context.Context, string) ([]domain.PendingOrder, error) {
			return []domain.PendingOrder{{ID: "po_1", CompanyID: "comp-b", CampaignID: strPtr("camp-1"), UserID: "user-9", PostedOrderID: &posted}}, nil
		},
	}
	svc := newTestService(t, repo, nil, nil)
	actor := Actor{ID: "ca-1", Role: RoleCompanyAdministrator, CompanyID: "comp-a"}

	_, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{{OrderID: "ord_1"}})
	if !errors.Is(err, ErrCompanyMismatch) {
		t.Fatalf("expected company mismatch denial, got %v", err)
	}
}

func TestDuplicateOrdersAdminSpansCompanies(t *testing.T) {
	posted := "ord_1"
	catalog := catalogWith(map[string]domain.Product{
		"ART-1": {ArticleNumber: "ART-1", Name: "Welcome Box"},
	})
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(context.Context, string) ([]domain.PendingOrder, error) {
			return []domain.PendingOrder{{ID: "po_1", CompanyID: "comp-b", CampaignID: strPtr("camp-1"), UserID: "user-9", PostedOrderID: &posted, Lines: []domain.OrderLine{{ArticleNumber: "ART-1", Quantity: 2}}}}, nil
		},
	}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "admin-1", Role: RoleAdmin}

	clones, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{{OrderID: "ord_1"}})
	if err != nil {
		t.Fatalf("admin duplication across companies: %v", err)
	}
	if len(clones) != 1 || clones[0].CompanyID != "comp-b" {
		t.Fatalf("unexpected clones %#v", clones)
	}
}

func TestDuplicateOrdersFanOutClonesEveryMatch(t *testing.T) {
	posted := "ord_1"
	catalog := catalogWith(map[string]domain.Product{
		"ART-1": {ArticleNumber: "ART-1", Name: "Welcome Box"},
	})
	inserted := make([]domain.PendingOrder, 0, 2)
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(context.Context, string) ([]domain.PendingOrder, error) {
			// A single posting can fan out into several pending orders.
			return []domain.PendingOrder{
				{ID: "po_a", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", PostedOrderID: &posted, Lines: []domain.OrderLine{{ArticleNumber: "ART-1", Quantity: 1}}},
				{ID: "po_b", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-2", PostedOrderID: &posted, Lines: []domain.OrderLine{{ArticleNumber: "ART-1", Quantity: 2}}},
			}, nil
		},
		insertFn: func(_ context.Context, order domain.PendingOrder) error {
			inserted = append(inserted, order)
			return nil
		},
	}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "cm-1", Role: RoleCampaignManager, CompanyID: "comp-1"}

	clones, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{{OrderID: "ord_1"}})
	if err != nil {
		t.Fatalf("duplicate orders: %v", err)
	}
	if len(clones) != 2 {
		t.Fatalf("expected a clone per resolved order, got %d", len(clones))
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(inserted))
	}
	if clones[0].UserID != "user-1" || clones[1].UserID != "user-2" {
		t.Fatalf("expected each source's ownership preserved, got %#v", clones)
	}
}

func TestDuplicateOrdersRevalidatesAgainstCurrentCatalog(t *testing.T) {
	posted := "ord_1"
	// The source line references an article that has since left the catalog.
	catalog := catalogWith(map[string]domain.Product{
		"ART-KEPT": {ArticleNumber: "ART-KEPT", Name: "Welcome Box"},
	})
	inserts := 0
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(context.Context, string) ([]domain.PendingOrder, error) {
			return []domain.PendingOrder{{
				ID: "po_src", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", PostedOrderID: &posted,
				Lines: []domain.OrderLine{{ArticleNumber: "ART-GONE", ArticleName: "Retired Box", Quantity: 2, UnitPrice: 500, Currency: "EUR"}},
			}}, nil
		},
		insertFn: func(context.Context, domain.PendingOrder) error {
			inserts++
			return nil
		},
	}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "cm-1", Role: RoleCampaignManager, CompanyID: "comp-1"}

	_, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{{OrderID: "ord_1"}})
	var lineErr *LineValidationError
	if !errors.As(err, &lineErr) || lineErr.Kind != LineValidationArticleNotFound {
		t.Fatalf("expected ArticleNotFound from clone re-validation, got %v", err)
	}
	if inserts != 0 {
		t.Fatalf("expected no clones persisted, got %d", inserts)
	}
}

func TestDuplicateOrdersRepricesClonedLines(t *testing.T) {
	posted := "ord_1"
	catalog := catalogWith(map[string]domain.Product{
		"ART-1": {
			ArticleNumber: "ART-1",
			Name:          "Welcome Box",
			GraduatedPrices: []domain.GraduatedPriceTier{
				{FirstUnit: 1, LastUnit: 10, UnitPrice: 1100, Currency: "EUR"},
			},
		},
	})
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(context.Context, string) ([]domain.PendingOrder, error) {
			return []domain.PendingOrder{{
				ID: "po_src", CompanyID: "comp-1", CampaignID: strPtr("camp-1"), UserID: "user-1", PostedOrderID: &posted,
				// Priced at 900 before the catalog moved to 1100.
				Lines: []domain.OrderLine{{ArticleNumber: "ART-1", ArticleName: "Welcome Box", Quantity: 3, UnitPrice: 900, Currency: "EUR"}},
			}}, nil
		},
	}
	svc := newTestService(t, repo, catalog, nil)
	actor := Actor{ID: "cm-1", Role: RoleCampaignManager, CompanyID: "comp-1"}

	clones, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{{OrderID: "ord_1"}})
	if err != nil {
		t.Fatalf("duplicate orders: %v", err)
	}
	if len(clones) != 1 || len(clones[0].Lines) != 1 {
		t.Fatalf("unexpected clones %#v", clones)
	}
	if clones[0].Lines[0].UnitPrice != 1100 {
		t.Fatalf("expected clone repriced from the current catalog, got %d", clones[0].Lines[0].UnitPrice)
	}
}

func TestDuplicateOrdersCloneFidelity(t *testing.T) {
	posted := "ord_1"
	shippedOriginal := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	source := domain.PendingOrder{
		ID:            "po_src",
		OrderNumber:   "PO-2025-000001",
		CompanyID:     "comp-1",
		CampaignID:    strPtr("camp-1"),
		UserID:        "user-1",
		PostedOrderID: &posted,
		IsQueued:      false,
		Shipped:       &shippedOriginal,
		Comment:       strPtr("handle with care"),
		CostCenter:    strPtr("cc-42"),
		Lines: []domain.OrderLine{
			{ArticleNumber: "ART-1", ArticleName: "Welcome Box", Quantity: 3, UnitPrice: 900, Currency: "EUR"},
			{ArticleNumber: "ART-2", ArticleName: "Marmelade", Quantity: 5, UnitPrice: 250, Currency: "EUR"},
		},
		ShippingAddresses: []domain.Address{{Name: "Depot Nord", City: "Hamburg", Country: "DE"}},
		Billing:           &domain.Address{Name: "Zentrale", City: "Berlin", Country: "DE"},
		Metadata:          map[string]string{"channel": "b2b"},
	}

	catalog := catalogWith(map[string]domain.Product{
		"ART-1": {ArticleNumber: "ART-1", Name: "Welcome Box", GraduatedPrices: []domain.GraduatedPriceTier{{FirstUnit: 1, LastUnit: 10, UnitPrice: 900, Currency: "EUR"}}},
		"ART-2": {ArticleNumber: "ART-2", Name: "Marmelade", GraduatedPrices: []domain.GraduatedPriceTier{{FirstUnit: 1, LastUnit: 10, UnitPrice: 250, Currency: "EUR"}}},
	})
	var inserted domain.PendingOrder
	repo := &stubPendingOrderRepo{
		findByPostedFn: func(context.Context, string) ([]domain.PendingOrder, error) {
			return []domain.PendingOrder{source}, nil
		},
		insertFn: func(_ context.Context, order domain.PendingOrder) error {
			inserted = order
			return nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestService(t, repo, catalog, events)
	actor := Actor{ID: "cm-1", Role: RoleCampaignManager, CompanyID: "comp-1"}

	requestedShipped := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	clones, err := svc.DuplicateOrders(context.Background(), actor, []DuplicateOrderRef{
		{OrderID: "ord_1", Shipped: &requestedShipped},
	})
	if err != nil {
		t.Fatalf("duplicate orders: %v", err)
	}
	if len(clones) != 1 {
		t.Fatalf("expected 1 clone, got %d", len(clones))
	}

	clone := clones[0]
	if clone.ID == source.ID || clone.ID != "po_000TEST" {
		t.Fatalf("expected fresh id, got %s", clone.ID)
	}
	if clone.OrderNumber == source.OrderNumber {
		t.Fatal("expected fresh order number")
	}
	if clone.PostedOrderID != nil || clone.IsQueued {
		t.Fatalf("expected lifecycle reset, got %#v", clone)
	}
	if clone.State != domain.OrderStateOpen {
		t.Fatalf("expected open state, got %s", clone.State)
	}
	if clone.Shipped == nil || !clone.Shipped.Equal(requestedShipped) {
		t.Fatalf("expected requested shipped date, got %v", clone.Shipped)
	}
	if clone.CompanyID != source.CompanyID || clone.UserID != source.UserID {
		t.Fatalf("expected inherited scope, got %#v", clone)
	}
	if clone.CampaignID == nil || *clone.CampaignID != "camp-1" {
		t.Fatalf("expected inherited campaign, got %v", clone.CampaignID)
	}
	if len(clone.Lines) != 2 || clone.Lines[0] != source.Lines[0] || clone.Lines[1] != source.Lines[1] {
		t.Fatalf("expected identical lines, got %#v", clone.Lines)
	}
	if len(clone.ShippingAddresses) != 1 || clone.ShippingAddresses[0] != source.ShippingAddresses[0] {
		t.Fatalf("expected identical shipping addresses, got %#v", clone.ShippingAddresses)
	}
	if clone.Billing == nil || *clone.Billing != *source.Billing {
		t.Fatalf("expected identical billing address, got %#v", clone.Billing)
	}
	if clone.Metadata["channel"] != "b2b" {
		t.Fatalf("expected metadata copied, got %#v", clone.Metadata)
	}
	if inserted.ID != clone.ID {
		t.Fatalf("expected clone persisted, got %#v", inserted)
	}
	if len(events.events) != 1 || events.events[0].Type != "pending_order.duplicated" {
		t.Fatalf("expected duplicated event, got %#v", events.events)
	}

	// Mutating the clone must not leak into the source.
	clone.Lines[0].Quantity = 99
	if source.Lines[0].Quantity != 3 {
		t.Fatal("clone shares line storage with source")
	}
}

func TestListOrdersScopesByRole(t *testing.T) {
	var captured repositories.PendingOrderListFilter
	repo := &stubPendingOrderRepo{
		listFn: func(_ context.Context, filter repositories.PendingOrderListFilter) (domain.CursorPage[domain.PendingOrder], error) {
			captured = filter
			return domain.CursorPage[domain.PendingOrder]{}, nil
		},
	}
	svc := newTestService(t, repo, nil, nil)

	if _, err := svc.ListOrders(context.Background(), Actor{ID: "admin-1", Role: RoleAdmin}, PendingOrderListFilter{}); err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if captured.CompanyID != "" || captured.UserID != "" {
		t.Fatalf("admin listing must be unscoped, got %#v", captured)
	}

	if _, err := svc.ListOrders(context.Background(), Actor{ID: "ca-1", Role: RoleCompanyAdministrator, CompanyID: "comp-1"}, PendingOrderListFilter{}); err != nil {
		t.Fatalf("company admin list: %v", err)
	}
	if captured.CompanyID != "comp-1" || captured.UserID != "" {
		t.Fatalf("company admin listing must scope by company, got %#v", captured)
	}

	if _, err := svc.ListOrders(context.Background(), Actor{ID: "user-1", Role: RoleUser, CompanyID: "comp-1"}, PendingOrderListFilter{}); err != nil {
		t.Fatalf("user list: %v", err)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("user listing must scope by user, got %#v", captured)
	}
}
