package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/merchkit/api/internal/platform/firestore"
	"github.com/merchkit/api/internal/repositories"
)

type contextKey string

const txContextKey contextKey = "github.com/merchkit/api/internal/repositories/firestore/tx"

func withTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey, tx)
}

func txFromContext(ctx context.Context) *firestore.Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey).(*firestore.Transaction)
	return tx
}

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract. RunInTx carries the active Firestore
// transaction in the context so repository mutations issued inside the
// callback commit or abort together.
type Registry struct {
	provider      *pfirestore.Provider
	pendingOrders *PendingOrderRepository
	products      *ProductRepository
	counters      *CounterRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the repository set against the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}
	pendingOrders, err := NewPendingOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return &Registry{
		provider:      provider,
		pendingOrders: pendingOrders,
		products:      products,
		counters:      counters,
		health:        health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) PendingOrders() repositories.PendingOrderRepository {
	return r.pendingOrders
}

func (r *Registry) Products() repositories.ProductRepository {
	return r.products
}

func (r *Registry) Counters() repositories.CounterRepository {
	return r.counters
}

func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}

// RunInTx executes fn inside a single Firestore transaction. Nested calls
// reuse the ambient transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTx(ctx, tx))
	})
}
