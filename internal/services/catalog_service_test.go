package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/merchkit/api/internal/domain"
)

func TestNewCatalogServiceRequiresRepository(t *testing.T) {
	if _, err := NewCatalogService(CatalogServiceDeps{}); err == nil {
		t.Fatal("expected error for missing product repository")
	}
}

func TestCatalogServiceFindProductTrimsArticleNumber(t *testing.T) {
	var requested string
	repo := &stubProductRepo{
		findFn: func(_ context.Context, articleNumber string) (domain.Product, error) {
			requested = articleNumber
			return domain.Product{ArticleNumber: articleNumber, Name: "Gußkarte"}, nil
		},
	}

	svc, err := NewCatalogService(CatalogServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	product, err := svc.FindProduct(context.Background(), "  ART-100  ")
	if err != nil {
		t.Fatalf("FindProduct: %v", err)
	}
	if requested != "ART-100" {
		t.Fatalf("expected trimmed lookup, got %q", requested)
	}
	if product.Name != "Gußkarte" {
		t.Fatalf("unexpected product: %+v", product)
	}
}

func TestCatalogServiceFindProductRejectsEmptyArticleNumber(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Products: &stubProductRepo{}})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	if _, err := svc.FindProduct(context.Background(), "   "); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
