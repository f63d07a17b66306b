package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/platform/config"
	"github.com/oakmart/storefront-api/internal/repositories"
	"github.com/oakmart/storefront-api/internal/services"
)

// Repositories bundles the persistence contracts the service layer depends on.
type Repositories struct {
	Products repositories.ProductRepository
	Orders   repositories.OrderRepository
	Reviews  repositories.ReviewRepository
	Carts    repositories.CartRepository
	Counters repositories.CounterRepository
	Health   repositories.HealthRepository
}

// Publishers carries the optional event publishers. Nil publishers disable
// event fan-out without affecting request handling.
type Publishers struct {
	OrderEvents services.OrderEventPublisher
	StockEvents services.StockEventPublisher
}

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Cart      services.CartService
	Orders    services.OrderService
	Reviews   services.ReviewService
	Ratings   services.RatingService
	Inventory services.InventoryService
	Counters  services.CounterService
	System    services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger *zap.Logger
}

// WithLogger routes service-level event logs through the provided zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Firestore-backed repositories, while tests can supply in-memory stubs.
func NewContainer(cfg config.Config, repos Repositories, pubs Publishers, build services.BuildInfo, opts ...Option) (*Container, error) {
	var options containerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(cfg, repos, pubs, build, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: repos,
		Services:     svc,
	}, nil
}

func buildServices(cfg config.Config, repos Repositories, pubs Publishers, build services.BuildInfo, options containerOptions) (Services, error) {
	var svc Services

	if repos.Products == nil {
		return Services{}, errors.New("product repository is required")
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: repos.Products,
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: repos.Products,
		Events:   pubs.StockEvents,
		Clock:    time.Now,
		Logger:   serviceLogger(options.logger, "inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	if repos.Carts != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Carts:    repos.Carts,
			Products: repos.Products,
			Clock:    time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	if repos.Counters != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: repos.Counters,
			Clock:      time.Now,
			OrderNumbers: services.OrderNumberFormat{
				Prefix:    cfg.Orders.NumberPrefix,
				PadLength: cfg.Orders.NumberPadLength,
				MaxValue:  cfg.Orders.NumberMaxValue,
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	if repos.Reviews != nil {
		ratingSvc, err := services.NewRatingService(services.RatingServiceDeps{
			Reviews:  repos.Reviews,
			Products: repos.Products,
			Clock:    time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build rating service: %w", err)
		}
		svc.Ratings = ratingSvc

		reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
			Reviews:  repos.Reviews,
			Products: repos.Products,
			Ratings:  ratingSvc,
			Clock:    time.Now,
			Logger:   serviceLogger(options.logger, "review"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build review service: %w", err)
		}
		svc.Reviews = reviewSvc
	}

	if repos.Orders != nil && svc.Counters != nil && svc.Cart != nil {
		pricing, err := services.NewPricingEngine(domain.PricingPolicy{
			Currency:              cfg.Pricing.Currency,
			TaxRateBps:            cfg.Pricing.TaxRateBps,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			FlatShippingFee:       cfg.Pricing.FlatShippingFee,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build pricing engine: %w", err)
		}

		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:    repos.Orders,
			Products:  repos.Products,
			Carts:     repos.Carts,
			Inventory: svc.Inventory,
			Counters:  svc.Counters,
			Pricing:   pricing,
			Events:    pubs.OrderEvents,
			Clock:     time.Now,
			Logger:    serviceLogger(options.logger, "order"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if repos.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: repos.Health,
			Clock:            time.Now,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func serviceLogger(logger *zap.Logger, name string) func(context.Context, string, map[string]any) {
	if logger == nil {
		return nil
	}
	named := logger.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		named.Debug("service log", zFields...)
	}
}
