package services

import (
	"context"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	SortOrder        = domain.SortOrder
	Product          = domain.Product
	Rating           = domain.Rating
	Order            = domain.Order
	OrderTotals      = domain.OrderTotals
	OrderLineItem    = domain.OrderLineItem
	OrderStatus      = domain.OrderStatus
	PaymentStatus    = domain.PaymentStatus
	PaymentMethod    = domain.PaymentMethod
	Address          = domain.Address
	Review           = domain.Review
	Cart             = domain.Cart
	CartItem         = domain.CartItem
	StockLine        = domain.StockLine
	StockShortage    = domain.StockShortage
	StockEvent       = domain.StockEvent
	PricingPolicy    = domain.PricingPolicy
	PriceLine        = domain.PriceLine
	PricingBreakdown = domain.PricingBreakdown
	LinePricing      = domain.LinePricing

	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService manages product documents for public reads and admin writes.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	SetStock(ctx context.Context, cmd SetStockCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// CartService manages the mutable per-user cart fed into checkout.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderService coordinates checkout and the order lifecycle state machine.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	TransitionPayment(ctx context.Context, cmd PaymentTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// InventoryService centralises all-or-nothing stock reservation and the
// compensating release used when later checkout steps fail.
type InventoryService interface {
	Reserve(ctx context.Context, cmd StockReserveCommand) error
	Release(ctx context.Context, cmd StockReleaseCommand) error
}

// CounterService issues monotonically increasing sequence values and formats
// them into human-facing identifiers such as order numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// CounterValue carries the raw sequence value together with its formatted form.
type CounterValue struct {
	Value     int64
	Formatted string
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// ReviewService coordinates review lifecycle and keeps product ratings current.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	Update(ctx context.Context, cmd UpdateReviewCommand) (Review, error)
	Delete(ctx context.Context, cmd DeleteReviewCommand) error
	ListByProduct(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error)
}

// RatingService recomputes the denormalized rating summary for a product from
// its active reviews.
type RatingService interface {
	Recompute(ctx context.Context, productID string) (Rating, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StockEventPublisher accepts stock change notifications for downstream processing.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// OrderEvent captures metadata for order lifecycle events.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	ActorID     string
	OccurredAt  time.Time
	Metadata    map[string]any
}

// Command and DTO definitions ------------------------------------------------

type ProductListFilter = repositories.ProductListFilter

type OrderListFilter = repositories.OrderListFilter

type CreateProductCommand struct {
	Name        string
	Description string
	Category    string
	Price       int64
	Currency    string
	Stock       int
	ImageURL    string
	Active      bool
}

type UpdateProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	Category    *string
	Price       *int64
	ImageURL    *string
	Active      *bool
}

type SetStockCommand struct {
	ProductID string
	Quantity  int
	ActorID   string
}

type UpsertCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

type CheckoutCommand struct {
	UserID          string
	Items           []CheckoutLine
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Notes           string
}

// CheckoutLine identifies one requested purchase; quantities for the same
// product are aggregated before pricing.
type CheckoutLine struct {
	ProductID string
	Quantity  int
}

type OrderReadOptions struct {
	ActorID    string
	AllowStaff bool
}

type OrderStatusTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	ActorID string
}

type PaymentTransitionCommand struct {
	OrderID string
	Target  PaymentStatus
	ActorID string
}

type CancelOrderCommand struct {
	OrderID    string
	ActorID    string
	AllowStaff bool
	Reason     string
}

type StockReserveCommand struct {
	OrderID string
	Lines   []StockLine
}

type StockReleaseCommand struct {
	OrderID string
	Lines   []StockLine
	Reason  string
}

type CreateReviewCommand struct {
	ProductID string
	UserID    string
	Rating    int
	Title     string
	Comment   string
}

type UpdateReviewCommand struct {
	ReviewID string
	ActorID  string
	Rating   *int
	Title    *string
	Comment  *string
}

type DeleteReviewCommand struct {
	ReviewID   string
	ActorID    string
	AllowStaff bool
}

type ListProductReviewsCommand struct {
	ProductID  string
	Pagination Pagination
}
