package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/merchkit/api/internal/domain"
)

type stubPendingOrderService struct {
	createFn func(context.Context, Actor, []OrderSubmission) ([]PendingOrder, error)
}

func (s *stubPendingOrderService) CreateOrders(ctx context.Context, actor Actor, submissions []OrderSubmission) ([]PendingOrder, error) {
	if s.createFn != nil {
		return s.createFn(ctx, actor, submissions)
	}
	return nil, errors.New("not implemented")
}

func (s *stubPendingOrderService) GetOrder(context.Context, Actor, string) (PendingOrder, error) {
	return PendingOrder{}, errors.New("not implemented")
}

func (s *stubPendingOrderService) ListOrders(context.Context, Actor, PendingOrderListFilter) (domain.CursorPage[PendingOrder], error) {
	return domain.CursorPage[PendingOrder]{}, errors.New("not implemented")
}

func (s *stubPendingOrderService) UpdateOrder(context.Context, Actor, UpdateOrderCommand) (PendingOrder, error) {
	return PendingOrder{}, errors.New("not implemented")
}

func (s *stubPendingOrderService) DeleteOrder(context.Context, Actor, string) error {
	return errors.New("not implemented")
}

func (s *stubPendingOrderService) DuplicateOrders(context.Context, Actor, []DuplicateOrderRef) ([]PendingOrder, error) {
	return nil, errors.New("not implemented")
}

func TestImportBatchAppliesDefaultCampaign(t *testing.T) {
	var captured []OrderSubmission
	orders := &stubPendingOrderService{
		createFn: func(_ context.Context, _ Actor, submissions []OrderSubmission) ([]PendingOrder, error) {
			captured = submissions
			return []PendingOrder{{ID: "po_1"}}, nil
		},
	}
	svc, err := NewIngestionService(IngestionServiceDeps{Orders: orders, DefaultCampaignID: "camp-default"})
	if err != nil {
		t.Fatalf("new ingestion service: %v", err)
	}

	explicit := "camp-explicit"
	actor := Actor{ID: "user-1", Role: RoleCompanyAdministrator, CompanyID: "comp-1"}
	created, err := svc.ImportBatch(context.Background(), actor, ImportBatch{
		Source: "sap-export",
		Orders: []OrderSubmission{
			{Lines: []OrderLineInput{{ArticleNumber: "ART-1", Quantity: 1}}},
			{CampaignID: &explicit, Lines: []OrderLineInput{{ArticleNumber: "ART-2", Quantity: 2}}},
		},
	})
	if err != nil {
		t.Fatalf("import batch: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected created orders returned, got %d", len(created))
	}
	if len(captured) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(captured))
	}
	if captured[0].CampaignID == nil || *captured[0].CampaignID != "camp-default" {
		t.Fatalf("expected default campaign applied, got %v", captured[0].CampaignID)
	}
	if captured[1].CampaignID == nil || *captured[1].CampaignID != "camp-explicit" {
		t.Fatalf("expected explicit campaign preserved, got %v", captured[1].CampaignID)
	}
}

func TestImportBatchBatchCampaignOverridesDefault(t *testing.T) {
	var captured []OrderSubmission
	orders := &stubPendingOrderService{
		createFn: func(_ context.Context, _ Actor, submissions []OrderSubmission) ([]PendingOrder, error) {
			captured = submissions
			return nil, nil
		},
	}
	svc, err := NewIngestionService(IngestionServiceDeps{Orders: orders, DefaultCampaignID: "camp-default"})
	if err != nil {
		t.Fatalf("new ingestion service: %v", err)
	}

	batchCampaign := "camp-batch"
	actor := Actor{ID: "user-1", Role: RoleCompanyAdministrator, CompanyID: "comp-1"}
	if _, err := svc.ImportBatch(context.Background(), actor, ImportBatch{
		Source:     "sap-export",
		CampaignID: &batchCampaign,
		Orders: []OrderSubmission{
			{Lines: []OrderLineInput{{ArticleNumber: "ART-1", Quantity: 1}}},
		},
	}); err != nil {
		t.Fatalf("import batch: %v", err)
	}
	if captured[0].CampaignID == nil || *captured[0].CampaignID != "camp-batch" {
		t.Fatalf("expected batch campaign applied, got %v", captured[0].CampaignID)
	}
}

func TestImportBatchNormalisesArticleIdentifiers(t *testing.T) {
	var captured []OrderSubmission
	orders := &stubPendingOrderService{
		createFn: func(_ context.Context, _ Actor, submissions []OrderSubmission) ([]PendingOrder, error) {
			captured = submissions
			return nil, nil
		},
	}
	svc, err := NewIngestionService(IngestionServiceDeps{Orders: orders})
	if err != nil {
		t.Fatalf("new ingestion service: %v", err)
	}

	actor := Actor{ID: "user-1", Role: RoleCompanyAdministrator, CompanyID: "comp-1"}
	if _, err := svc.ImportBatch(context.Background(), actor, ImportBatch{
		Source: "csv-upload",
		Orders: []OrderSubmission{
			{Lines: []OrderLineInput{{ArticleNumber: "  ART-1  ", ArticleName: "Guß karté", Quantity: 1}}},
		},
	}); err != nil {
		t.Fatalf("import batch: %v", err)
	}
	line := captured[0].Lines[0]
	if line.ArticleNumber != "ART-1" {
		t.Fatalf("expected trimmed article number, got %q", line.ArticleNumber)
	}
	if line.ArticleName != "Guß karté" {
		t.Fatalf("expected precomposed article name, got %q", line.ArticleName)
	}
}

func TestImportBatchKeepsValidationErrorShape(t *testing.T) {
	orders := &stubPendingOrderService{
		createFn: func(context.Context, Actor, []OrderSubmission) ([]PendingOrder, error) {
			return nil, &LineValidationError{Kind: LineValidationBelowMinimumQuantity, ArticleNumber: "ART-1", Threshold: 10}
		},
	}
	svc, err := NewIngestionService(IngestionServiceDeps{Orders: orders})
	if err != nil {
		t.Fatalf("new ingestion service: %v", err)
	}

	actor := Actor{ID: "user-1", Role: RoleCompanyAdministrator, CompanyID: "comp-1"}
	_, err = svc.ImportBatch(context.Background(), actor, ImportBatch{
		Source: "csv-upload",
		Orders: []OrderSubmission{{Lines: []OrderLineInput{{ArticleNumber: "ART-1", Quantity: 1}}}},
	})

	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		t.Fatalf("validation failures must not be wrapped as adapter errors, got %v", err)
	}
	var lineErr *LineValidationError
	if !errors.As(err, &lineErr) || lineErr.Kind != LineValidationBelowMinimumQuantity {
		t.Fatalf("expected validation error passed through, got %v", err)
	}
}

func TestImportBatchKeepsPermissionErrorShape(t *testing.T) {
	orders := &stubPendingOrderService{
		createFn: func(context.Context, Actor, []OrderSubmission) ([]PendingOrder, error) {
			return nil, ErrCompanyMismatch
		},
	}
	svc, err := NewIngestionService(IngestionServiceDeps{Orders: orders})
	if err != nil {
		t.Fatalf("new ingestion service: %v", err)
	}

	actor := Actor{ID: "user-1", Role: RoleCompanyAdministrator, CompanyID: "comp-1"}
	_, err = svc.ImportBatch(context.Background(), actor, ImportBatch{
		Source: "csv-upload",
		Orders: []OrderSubmission{{Lines: []OrderLineInput{{ArticleNumber: "ART-1", Quantity: 1}}}},
	})
	if !errors.Is(err, ErrCompanyMismatch) {
		t.Fatalf("expected company mismatch passed through, got %v", err)
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		t.Fatalf("permission failures must not be wrapped as adapter errors, got %v", err)
	}
}

func TestImportBatchRejectsEmptyBatch(t *testing.T) {
	svc, err := NewIngestionService(IngestionServiceDeps{Orders: &stubPendingOrderService{}})
	if err != nil {
		t.Fatalf("new ingestion service: %v", err)
	}
	actor := Actor{ID: "user-1", Role: RoleCompanyAdministrator, CompanyID: "comp-1"}
	_, err = svc.ImportBatch(context.Background(), actor, ImportBatch{Source: "csv-upload"})
	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) {
		t.Fatalf("expected adapter error, got %v", err)
	}
}
