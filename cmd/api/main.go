package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/oakmart/storefront-api/internal/di"
	"github.com/oakmart/storefront-api/internal/handlers"
	"github.com/oakmart/storefront-api/internal/platform/auth"
	"github.com/oakmart/storefront-api/internal/platform/config"
	"github.com/oakmart/storefront-api/internal/platform/events"
	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/platform/idempotency"
	"github.com/oakmart/storefront-api/internal/platform/observability"
	"github.com/oakmart/storefront-api/internal/repositories"
	firestoreRepo "github.com/oakmart/storefront-api/internal/repositories/firestore"
	"github.com/oakmart/storefront-api/internal/services"
)

// Populated at build time via -ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

// ratingSweepInterval paces the background recomputation that repairs rating
// aggregates drifted by partial failures.
const ratingSweepInterval = time.Hour

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     buildVersion,
		CommitSHA:   buildCommit,
		Environment: cfg.Environment,
		StartedAt:   startedAt,
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var pubsubClient *pubsub.Client
	publishers := di.Publishers{}
	if cfg.Features.EnableEvents && (cfg.PubSub.OrderEventsTopic != "" || cfg.PubSub.StockEventsTopic != "") {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		if name := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); name != "" {
			publisher, err := events.NewPubSubOrderEventPublisher(pubsubClient.Topic(name))
			if err != nil {
				logger.Fatal("failed to initialise order event publisher", zap.Error(err))
			}
			publishers.OrderEvents = publisher
		}
		if name := strings.TrimSpace(cfg.PubSub.StockEventsTopic); name != "" {
			publisher, err := events.NewPubSubStockEventPublisher(pubsubClient.Topic(name))
			if err != nil {
				logger.Fatal("failed to initialise stock event publisher", zap.Error(err))
			}
			publishers.StockEvents = publisher
		}
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	reviewRepo, err := firestoreRepo.NewReviewRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise review repository", zap.Error(err))
	}
	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreClient, pubsubClient, cfg)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, di.Repositories{
		Products: productRepo,
		Orders:   orderRepo,
		Reviews:  reviewRepo,
		Carts:    cartRepo,
		Counters: counterRepo,
		Health:   healthRepo,
	}, publishers, buildInfo, di.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	var sweepTicker *time.Ticker
	if cfg.Features.EnableRatingSweep && container.Services.Ratings != nil {
		sweepTicker = time.NewTicker(ratingSweepInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			sweepLogger := logger.Named("rating-sweep")
			for {
				select {
				case <-sweepTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, 5*time.Minute)
					recomputed, err := sweepRatings(runCtx, container.Services.Catalog, container.Services.Ratings)
					cancel()
					if err != nil {
						sweepLogger.Error("rating sweep error", zap.Error(err))
						continue
					}
					sweepLogger.Info("rating sweep completed", zap.Int("products", recomputed))
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)
	productHandlers := handlers.NewProductHandlers(authenticator, container.Services.Catalog)
	cartHandlers := handlers.NewCartHandlers(authenticator, container.Services.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
	)
	reviewHandlers := handlers.NewReviewHandlers(authenticator, container.Services.Reviews,
		handlers.WithReviewRateLimit(cfg.RateLimits.ReviewsPerMinute, time.Minute),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(func(r chi.Router) {
			productHandlers.Routes(r)
			reviewHandlers.ProductRoutes(r)
		}),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReviewRoutes(reviewHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	if sweepTicker != nil {
		sweepTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// sweepRatings pages through the catalog and recomputes each product's rating
// aggregate. Per-product failures abort the sweep; the next tick retries.
func sweepRatings(ctx context.Context, catalog services.CatalogService, ratings services.RatingService) (int, error) {
	recomputed := 0
	pageToken := ""
	for {
		page, err := catalog.ListProducts(ctx, services.ProductListFilter{
			Pagination: services.Pagination{PageSize: 100, PageToken: pageToken},
		})
		if err != nil {
			return recomputed, err
		}
		for _, product := range page.Items {
			if _, err := ratings.Recompute(ctx, product.ID); err != nil {
				return recomputed, err
			}
			recomputed++
		}
		if page.NextPageToken == "" {
			return recomputed, nil
		}
		pageToken = page.NextPageToken
	}
}

func newHealthRepository(client *firestore.Client, pubsubClient *pubsub.Client, cfg config.Config) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if pubsubClient != nil {
		pc := pubsubClient
		topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
		if topicName == "" {
			topicName = strings.TrimSpace(cfg.PubSub.StockEventsTopic)
		}
		if topicName != "" {
			checks = append(checks, repositories.DependencyCheck{
				Name:    "pubsub",
				Timeout: time.Second,
				Check: func(ctx context.Context) error {
					_, err := pc.Topic(topicName).Exists(ctx)
					return err
				},
			})
		}
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
