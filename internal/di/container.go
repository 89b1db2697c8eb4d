// Package di assembles the service graph from repositories and runtime
// configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/merchkit/api/internal/platform/config"
	"github.com/merchkit/api/internal/repositories"
	"github.com/merchkit/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	PendingOrders services.PendingOrderService
	Catalog       services.CatalogService
	Ingestion     services.IngestionService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for
// runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container construction.
type Option func(*assembler)

// WithOrderEventPublisher wires a publisher for pending order lifecycle events.
func WithOrderEventPublisher(events services.OrderEventPublisher) Option {
	return func(a *assembler) {
		a.events = events
	}
}

// WithBuildInfo attaches build metadata surfaced via health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(a *assembler) {
		a.build = build
	}
}

// NewContainer constructs the runtime dependencies. Production wiring
// provides Firestore-backed repositories; tests can supply in-memory
// registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	a := &assembler{cfg: cfg, registry: reg}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	for _, build := range []func() error{
		a.catalog,
		a.pendingOrders,
		a.ingestion,
		a.system,
	} {
		if err := build(); err != nil {
			return nil, err
		}
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     a.services,
	}, nil
}

// Close releases repository clients and any background workers they own.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// assembler builds each service in dependency order. Builders skip quietly
// when their backing repository is absent so partial registries (used by
// tests) still assemble.
type assembler struct {
	cfg      config.Config
	registry repositories.Registry
	events   services.OrderEventPublisher
	build    services.BuildInfo
	services Services
}

func (a *assembler) catalog() error {
	products := a.registry.Products()
	if products == nil {
		return nil
	}
	svc, err := services.NewCatalogService(services.CatalogServiceDeps{Products: products})
	if err != nil {
		return fmt.Errorf("build catalog service: %w", err)
	}
	a.services.Catalog = svc
	return nil
}

func (a *assembler) pendingOrders() error {
	orders := a.registry.PendingOrders()
	if orders == nil || a.services.Catalog == nil {
		return nil
	}
	svc, err := services.NewPendingOrderService(services.PendingOrderServiceDeps{
		Orders:     orders,
		Counters:   a.registry.Counters(),
		Catalog:    a.services.Catalog,
		UnitOfWork: a.registry,
		Clock:      time.Now,
		Events:     a.events,
	})
	if err != nil {
		return fmt.Errorf("build pending order service: %w", err)
	}
	a.services.PendingOrders = svc
	return nil
}

func (a *assembler) ingestion() error {
	if a.services.PendingOrders == nil {
		return nil
	}
	svc, err := services.NewIngestionService(services.IngestionServiceDeps{
		Orders:            a.services.PendingOrders,
		DefaultCampaignID: a.cfg.Ingestion.DefaultCampaignID,
	})
	if err != nil {
		return fmt.Errorf("build ingestion service: %w", err)
	}
	a.services.Ingestion = svc
	return nil
}

func (a *assembler) system() error {
	health := a.registry.Health()
	if health == nil {
		return nil
	}
	build := a.build
	if build.StartedAt.IsZero() {
		build.StartedAt = time.Now().UTC()
	}
	svc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}
	a.services.System = svc
	return nil
}
