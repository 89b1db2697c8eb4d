package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/merchkit/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar registers a group of routes on the router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	middlewares         []func(http.Handler) http.Handler
	health              *HealthHandlers
	pendingOrders       RouteRegistrar
	internal            RouteRegistrar
	internalMiddlewares []func(http.Handler) http.Handler
}

// Option customises the router before construction.
type Option func(*routerConfig)

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithPendingOrderRoutes mounts the pending order endpoints.
func WithPendingOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.pendingOrders = reg }
}

// WithInternalRoutes mounts the internal endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.internal = reg }
}

// WithInternalMiddlewares applies middleware to the /internal group only.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.internalMiddlewares = append(cfg.internalMiddlewares, mw...) }
}

// NewRouter builds the chi router. Health probes sit outside the API
// prefix; every group under the prefix answers JSON even for unknown
// routes, and unmounted groups report not_implemented rather than 404.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		api.Route("/pending-orders", group(cfg.pendingOrders, "pendingOrders", nil))
		api.Route("/internal", group(cfg.internal, "internal", cfg.internalMiddlewares))
	})

	return r
}

func group(reg RouteRegistrar, name string, mws []func(http.Handler) http.Handler) func(chi.Router) {
	return func(g chi.Router) {
		for _, mw := range mws {
			if mw != nil {
				g.Use(mw)
			}
		}
		if reg != nil {
			reg(g)
			return
		}
		stub := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
		}
		g.HandleFunc("/*", stub)
		g.HandleFunc("/", stub)
		g.NotFound(stub)
		g.MethodNotAllowed(stub)
	}
}
