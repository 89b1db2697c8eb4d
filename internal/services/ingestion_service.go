package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AdapterError flags a structural problem in a bulk-ingested batch, such
// as an empty or unparseable file. Per-line validation and permission
// failures are never wrapped in it.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Source != "" {
		return fmt.Sprintf("ingestion adapter %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("ingestion adapter: %v", e.Err)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IngestionServiceDeps bundles collaborators required to construct the ingestion service.
type IngestionServiceDeps struct {
	Orders            PendingOrderService
	DefaultCampaignID string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type ingestionService struct {
	orders          PendingOrderService
	defaultCampaign string
	logger          func(context.Context, string, map[string]any)
}

var _ IngestionService = (*ingestionService)(nil)

// NewIngestionService wires the pending order service into a bulk batch adapter.
func NewIngestionService(deps IngestionServiceDeps) (IngestionService, error) {
	if deps.Orders == nil {
		return nil, errors.New("ingestion service: pending order service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ingestionService{
		orders:          deps.Orders,
		defaultCampaign: strings.TrimSpace(deps.DefaultCampaignID),
		logger:          logger,
	}, nil
}

// ImportBatch normalises a structurally parsed batch and submits it as a
// single creation batch. Any failure rejects the batch as a whole.
func (s *ingestionService) ImportBatch(ctx context.Context, actor Actor, batch ImportBatch) ([]PendingOrder, error) {
	source := strings.TrimSpace(batch.Source)
	if len(batch.Orders) == 0 {
		return nil, &AdapterError{Source: source, Err: fmt.Errorf("%w: batch contains no orders", ErrOrderInvalidInput)}
	}

	campaignID := s.defaultCampaign
	if batch.CampaignID != nil {
		if trimmed := strings.TrimSpace(*batch.CampaignID); trimmed != "" {
			campaignID = trimmed
		}
	}

	submissions := make([]OrderSubmission, 0, len(batch.Orders))
	for _, order := range batch.Orders {
		submission := order
		if submission.CampaignID == nil && campaignID != "" {
			campaign := campaignID
			submission.CampaignID = &campaign
		}
		submission.Lines = normalizeLines(order.Lines)
		submissions = append(submissions, submission)
	}

	orders, err := s.orders.CreateOrders(ctx, actor, submissions)
	if err != nil {
		s.logger(ctx, "ingestion.batch.rejected", map[string]any{
			"source": source,
			"orders": len(submissions),
			"error":  err.Error(),
		})
		// Validation and permission failures keep their own shape; the
		// adapter wrapper is reserved for structural batch problems.
		return nil, err
	}

	s.logger(ctx, "ingestion.batch.imported", map[string]any{
		"source": source,
		"orders": len(orders),
	})
	return orders, nil
}

// normalizeLines precomposes article identifiers so externally sourced
// names such as "Gußkarte" match their catalog spelling.
func normalizeLines(lines []OrderLineInput) []OrderLineInput {
	if len(lines) == 0 {
		return nil
	}
	normalized := make([]OrderLineInput, 0, len(lines))
	for _, line := range lines {
		normalized = append(normalized, OrderLineInput{
			ArticleNumber:    norm.NFC.String(strings.TrimSpace(line.ArticleNumber)),
			ArticleName:      norm.NFC.String(strings.TrimSpace(line.ArticleName)),
			Quantity:         line.Quantity,
			VAT:              line.VAT,
			Discount:         line.Discount,
			NetPurchasePrice: line.NetPurchasePrice,
			LineTypeCode:     line.LineTypeCode,
		})
	}
	return normalized
}
