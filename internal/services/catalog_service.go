package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/merchkit/api/internal/repositories"
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
}

type catalogService struct {
	products repositories.ProductRepository
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService wires the product repository into a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	return &catalogService{products: deps.Products}, nil
}

// FindProduct resolves a catalog entry by its article number. Not-found
// results surface as the repository's categorised error so callers can
// branch on it.
func (s *catalogService) FindProduct(ctx context.Context, articleNumber string) (Product, error) {
	articleNumber = strings.TrimSpace(articleNumber)
	if articleNumber == "" {
		return Product{}, fmt.Errorf("%w: article number is required", ErrOrderInvalidInput)
	}
	return s.products.FindByArticleNumber(ctx, articleNumber)
}
