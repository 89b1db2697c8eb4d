package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/merchkit/api/internal/di"
	"github.com/merchkit/api/internal/handlers"
	"github.com/merchkit/api/internal/platform/auth"
	"github.com/merchkit/api/internal/platform/config"
	pfirestore "github.com/merchkit/api/internal/platform/firestore"
	"github.com/merchkit/api/internal/platform/idempotency"
	"github.com/merchkit/api/internal/platform/jobs"
	"github.com/merchkit/api/internal/platform/observability"
	"github.com/merchkit/api/internal/repositories"
	firestoreRepo "github.com/merchkit/api/internal/repositories/firestore"
	"github.com/merchkit/api/internal/services"
)

const (
	dependencyProbeTimeout = 1500 * time.Millisecond
	shutdownGrace          = 10 * time.Second
	registryCloseGrace     = 5 * time.Second
	cleanupRunTimeout      = time.Minute
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(context.Background(), logger.Named("api")); err != nil {
		logger.Fatal("api startup failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("configuration missing fields %v: %w", invalid.Fields(), err)
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		return fmt.Errorf("firestore client: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	orderEventsTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	defer orderEventsTopic.Stop()

	eventPublisher, err := jobs.NewPubSubOrderEventPublisher(orderEventsTopic)
	if err != nil {
		return fmt.Errorf("order event publisher: %w", err)
	}

	healthRepo, err := dependencyHealth(firestoreClient, orderEventsTopic)
	if err != nil {
		return fmt.Errorf("health checks: %w", err)
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), registryCloseGrace)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithOrderEventPublisher(eventPublisher),
		di.WithBuildInfo(buildInfoFromEnv(startedAt)),
	)
	if err != nil {
		return fmt.Errorf("service container: %w", err)
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("firebase verifier: %w", err)
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
	defer stopCleanup()

	router := buildRouter(logger, cfg, container,
		auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier)),
		idempotencyStore,
	)

	return serve(logger, cfg.Server, router)
}

// buildRouter assembles the middleware chain and route groups around the
// wired services.
func buildRouter(
	logger *zap.Logger,
	cfg config.Config,
	container *di.Container,
	authenticator *auth.Authenticator,
	store idempotency.Store,
) http.Handler {
	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotency.Middleware(
			store,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithRetention(cfg.Idempotency.TTL),
			idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
		),
	}

	var orderOpts []handlers.PendingOrderOption
	if cfg.RateLimits.AuthenticatedPerMinute > 0 {
		orderOpts = append(orderOpts, handlers.WithImportRateLimit(cfg.RateLimits.AuthenticatedPerMinute, time.Minute))
	}
	orderHandlers := handlers.NewPendingOrderHandlers(
		authenticator,
		container.Services.PendingOrders,
		container.Services.Ingestion,
		orderOpts...,
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithSystemService(container.Services.System),
		)),
		handlers.WithPendingOrderRoutes(orderHandlers.Routes),
	)
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains in-flight
// requests before returning.
func serve(logger *zap.Logger, cfg config.ServerConfig, router http.Handler) error {
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("merchkit api listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-shutdown:
	}
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// startIdempotencyCleanup purges expired replay records on the configured
// interval. The returned func stops the loop and waits for the in-flight
// sweep.
func startIdempotencyCleanup(logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) func() {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	loopCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				runCtx, runCancel := context.WithTimeout(loopCtx, cleanupRunTimeout)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				runCancel()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-loopCtx.Done():
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		wg.Wait()
	}
}

func buildInfoFromEnv(started time.Time) services.BuildInfo {
	fallback := func(key, def string) string {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
		return def
	}
	return services.BuildInfo{
		Version:     fallback("API_BUILD_VERSION", "dev"),
		CommitSHA:   fallback("API_BUILD_COMMIT_SHA", "unknown"),
		Environment: fallback("API_ENVIRONMENT", "local"),
		StartedAt:   started,
	}
}

// dependencyHealth wires readiness probes for the backing services the API
// cannot run without.
func dependencyHealth(client *firestore.Client, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: dependencyProbeTimeout,
			Check: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: dependencyProbeTimeout,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return errors.New("order events topic missing")
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
