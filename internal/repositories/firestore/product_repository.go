package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/merchkit/api/internal/domain"
	pfirestore "github.com/merchkit/api/internal/platform/firestore"
)

const productsCollection = "products"

// ProductRepository resolves catalog entries by article number.
type ProductRepository struct {
	base *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewCollection[productDocument](provider, productsCollection)
	return &ProductRepository{base: base}, nil
}

// FindByArticleNumber returns the catalog entry carrying the article number.
func (r *ProductRepository) FindByArticleNumber(ctx context.Context, articleNumber string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	articleNumber = strings.TrimSpace(articleNumber)
	if articleNumber == "" {
		return domain.Product{}, errors.New("product repository: article number is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("articleNumber", "==", articleNumber).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.WrapError("products.find_by_article_number",
			status.Error(codes.NotFound, "product not found"))
	}
	doc := docs[0]
	return decodeProductDocument(doc.ID, doc.Data), nil
}

type productDocument struct {
	ArticleNumber        string                  `firestore:"articleNumber"`
	Name                 string                  `firestore:"name"`
	MinimumOrderQuantity *int64                  `firestore:"minimumOrderQuantity,omitempty"`
	IsExceedStockEnabled bool                    `firestore:"isExceedStockEnabled"`
	GraduatedPrices      []graduatedTierDocument `firestore:"graduatedPrices,omitempty"`
}

type graduatedTierDocument struct {
	FirstUnit int64  `firestore:"firstUnit"`
	LastUnit  int64  `firestore:"lastUnit"`
	UnitPrice int64  `firestore:"unitPrice"`
	Currency  string `firestore:"currency"`
}

func decodeProductDocument(id string, doc productDocument) domain.Product {
	product := domain.Product{
		ID:                   strings.TrimSpace(id),
		ArticleNumber:        strings.TrimSpace(doc.ArticleNumber),
		Name:                 strings.TrimSpace(doc.Name),
		MinimumOrderQuantity: doc.MinimumOrderQuantity,
		IsExceedStockEnabled: doc.IsExceedStockEnabled,
	}
	if len(doc.GraduatedPrices) > 0 {
		product.GraduatedPrices = make([]domain.GraduatedPriceTier, 0, len(doc.GraduatedPrices))
		for _, tier := range doc.GraduatedPrices {
			product.GraduatedPrices = append(product.GraduatedPrices, domain.GraduatedPriceTier{
				FirstUnit: tier.FirstUnit,
				LastUnit:  tier.LastUnit,
				UnitPrice: tier.UnitPrice,
				Currency:  strings.TrimSpace(tier.Currency),
			})
		}
	}
	return product
}
