package domain

import "testing"

func TestResolveStatePostedWinsOverQueued(t *testing.T) {
	posted := "ord-123"
	cases := []struct {
		name  string
		order PendingOrder
		want  OrderState
	}{
		{name: "open", order: PendingOrder{}, want: OrderStateOpen},
		{name: "queued", order: PendingOrder{IsQueued: true}, want: OrderStateQueued},
		{name: "posted", order: PendingOrder{PostedOrderID: &posted}, want: OrderStatePosted},
		{name: "posted while queued", order: PendingOrder{IsQueued: true, PostedOrderID: &posted}, want: OrderStatePosted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.order.ResolveState(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestResolveStateIgnoresEmptyPostedOrderID(t *testing.T) {
	empty := ""
	order := PendingOrder{IsQueued: true, PostedOrderID: &empty}
	if got := order.ResolveState(); got != OrderStateQueued {
		t.Fatalf("expected queued, got %s", got)
	}
}

func TestClassification(t *testing.T) {
	campaign := "camp-1"
	empty := ""

	if got := (PendingOrder{}).Classification(); got != OrderClassificationCatalogue {
		t.Fatalf("expected catalogue, got %s", got)
	}
	if got := (PendingOrder{CampaignID: &empty}).Classification(); got != OrderClassificationCatalogue {
		t.Fatalf("expected catalogue for empty campaign id, got %s", got)
	}
	if got := (PendingOrder{CampaignID: &campaign}).Classification(); got != OrderClassificationCampaignScoped {
		t.Fatalf("expected campaign scoped, got %s", got)
	}
}

func TestQuantityCeiling(t *testing.T) {
	product := Product{
		GraduatedPrices: []GraduatedPriceTier{
			{FirstUnit: 1, LastUnit: 50},
			{FirstUnit: 51, LastUnit: 500},
			{FirstUnit: 501, LastUnit: 250},
		},
	}

	ceiling, ok := product.QuantityCeiling()
	if !ok || ceiling != 500 {
		t.Fatalf("expected ceiling 500, got %d (ok=%v)", ceiling, ok)
	}

	if _, ok := (Product{}).QuantityCeiling(); ok {
		t.Fatal("expected no ceiling without graduated prices")
	}
}
