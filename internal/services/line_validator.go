package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/merchkit/api/internal/domain"
	"github.com/merchkit/api/internal/repositories"
)

// LineValidationKind names the reason a line failed quantity validation.
type LineValidationKind string

const (
	// LineValidationArticleNotFound flags an article number absent from the catalog.
	LineValidationArticleNotFound LineValidationKind = "ArticleNotFound"
	// LineValidationBelowMinimumQuantity flags a quantity under the article's minimum order quantity.
	LineValidationBelowMinimumQuantity LineValidationKind = "BelowMinimumQuantity"
	// LineValidationAboveMaximumQuantity flags a quantity over the graduated price ceiling.
	LineValidationAboveMaximumQuantity LineValidationKind = "AboveMaximumQuantity"
)

// LineValidationError rejects a single order line and, through it, the
// whole submission batch it belongs to.
type LineValidationError struct {
	Kind          LineValidationKind
	ArticleName   string
	ArticleNumber string
	Quantity      int64
	Threshold     int64
}

func (e *LineValidationError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case LineValidationArticleNotFound:
		return fmt.Sprintf("article %s (%s) not found", e.ArticleName, e.ArticleNumber)
	case LineValidationBelowMinimumQuantity:
		return fmt.Sprintf("quantity %d for article %s (%s) is below the minimum order quantity %d", e.Quantity, e.ArticleName, e.ArticleNumber, e.Threshold)
	case LineValidationAboveMaximumQuantity:
		return fmt.Sprintf("quantity %d for article %s (%s) exceeds the maximum orderable quantity %d", e.Quantity, e.ArticleName, e.ArticleNumber, e.Threshold)
	default:
		return fmt.Sprintf("invalid order line for article %s (%s)", e.ArticleName, e.ArticleNumber)
	}
}

// lineValidator resolves each requested line against the catalog and
// enforces the article's quantity rules.
type lineValidator struct {
	catalog CatalogService
}

func newLineValidator(catalog CatalogService) (*lineValidator, error) {
	if catalog == nil {
		return nil, errors.New("line validator: catalog service is required")
	}
	return &lineValidator{catalog: catalog}, nil
}

// ValidateLine resolves the article and returns the priced order line.
// The first rule violation stops validation for the whole batch.
func (v *lineValidator) ValidateLine(ctx context.Context, line OrderLineInput) (domain.OrderLine, error) {
	if line.Quantity < 1 {
		return domain.OrderLine{}, fmt.Errorf("%w: line quantity must be a positive integer", ErrOrderInvalidInput)
	}

	articleNumber := strings.TrimSpace(line.ArticleNumber)
	if articleNumber == "" {
		return domain.OrderLine{}, &LineValidationError{
			Kind:        LineValidationArticleNotFound,
			ArticleName: strings.TrimSpace(line.ArticleName),
		}
	}

	product, err := v.catalog.FindProduct(ctx, articleNumber)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.OrderLine{}, &LineValidationError{
				Kind:          LineValidationArticleNotFound,
				ArticleName:   strings.TrimSpace(line.ArticleName),
				ArticleNumber: articleNumber,
				Quantity:      line.Quantity,
			}
		}
		return domain.OrderLine{}, err
	}

	if product.MinimumOrderQuantity != nil && line.Quantity < *product.MinimumOrderQuantity {
		return domain.OrderLine{}, &LineValidationError{
			Kind:          LineValidationBelowMinimumQuantity,
			ArticleName:   product.Name,
			ArticleNumber: articleNumber,
			Quantity:      line.Quantity,
			Threshold:     *product.MinimumOrderQuantity,
		}
	}

	// The ceiling only binds articles flagged for exceed-stock ordering.
	if product.IsExceedStockEnabled {
		if ceiling, ok := product.QuantityCeiling(); ok && line.Quantity > ceiling {
			return domain.OrderLine{}, &LineValidationError{
				Kind:          LineValidationAboveMaximumQuantity,
				ArticleName:   product.Name,
				ArticleNumber: articleNumber,
				Quantity:      line.Quantity,
				Threshold:     ceiling,
			}
		}
	}

	unitPrice, currency := tierPrice(product, line.Quantity)
	return domain.OrderLine{
		ArticleNumber:    product.ArticleNumber,
		ArticleName:      product.Name,
		Quantity:         line.Quantity,
		UnitPrice:        unitPrice,
		Currency:         currency,
		VAT:              line.VAT,
		Discount:         line.Discount,
		NetPurchasePrice: line.NetPurchasePrice,
		LineTypeCode:     line.LineTypeCode,
	}, nil
}

// tierPrice picks the graduated tier covering the quantity, falling back
// to the highest tier for quantities above the table.
func tierPrice(product domain.Product, quantity int64) (int64, string) {
	if len(product.GraduatedPrices) == 0 {
		return 0, ""
	}
	var best *domain.GraduatedPriceTier
	for i := range product.GraduatedPrices {
		tier := &product.GraduatedPrices[i]
		if quantity >= tier.FirstUnit && quantity <= tier.LastUnit {
			return tier.UnitPrice, tier.Currency
		}
		if best == nil || tier.LastUnit > best.LastUnit {
			best = tier
		}
	}
	return best.UnitPrice, best.Currency
}
