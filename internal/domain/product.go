package domain

// Product is the catalog entry a pending order line is validated
// against. Quantity rules live entirely on the product.
type Product struct {
	ID                   string
	ArticleNumber        string
	Name                 string
	MinimumOrderQuantity *int64
	IsExceedStockEnabled bool
	GraduatedPrices      []GraduatedPriceTier
}

// GraduatedPriceTier is one step of a graduated price table. LastUnit
// is the highest quantity the tier covers.
type GraduatedPriceTier struct {
	FirstUnit int64
	LastUnit  int64
	UnitPrice int64
	Currency  string
}

// QuantityCeiling returns the largest LastUnit across the graduated
// price tiers. The second return is false when no tiers are configured,
// in which case no upper bound applies.
func (p Product) QuantityCeiling() (int64, bool) {
	if len(p.GraduatedPrices) == 0 {
		return 0, false
	}
	var max int64
	for _, tier := range p.GraduatedPrices {
		if tier.LastUnit > max {
			max = tier.LastUnit
		}
	}
	return max, true
}
