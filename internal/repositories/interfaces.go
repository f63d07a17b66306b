package repositories

import (
	"context"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog products together with their denormalized
// stock level and rating summary.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)

	// ReserveStock atomically decrements stock for every line or none of them.
	// When any line cannot be satisfied the returned StockError carries the
	// full set of shortages observed inside the transaction.
	ReserveStock(ctx context.Context, req StockReserveRequest) (StockReserveResult, error)
	// RestoreStock adds quantities back, compensating a failed or cancelled order.
	RestoreStock(ctx context.Context, req StockRestoreRequest) (StockRestoreResult, error)
	// SetStock overwrites the absolute stock level for a single product.
	SetStock(ctx context.Context, productID string, quantity int, updatedAt time.Time) (domain.Product, error)
	// UpdateRating overwrites the denormalized rating summary for a product.
	UpdateRating(ctx context.Context, productID string, rating domain.Rating, updatedAt time.Time) error
}

// StockReserveRequest describes an all-or-nothing stock decrement for one order.
type StockReserveRequest struct {
	OrderRef string
	Lines    []domain.StockLine
}

// StockReserveResult reports the remaining stock per product after a successful reserve.
type StockReserveResult struct {
	Remaining map[string]int
}

// StockRestoreRequest describes a compensating stock increment.
type StockRestoreRequest struct {
	OrderRef string
	Lines    []domain.StockLine
}

// StockRestoreResult reports the stock per product after restoration.
type StockRestoreResult struct {
	Remaining map[string]int
}

// OrderRepository persists order documents and the order number uniqueness index.
type OrderRepository interface {
	// Insert creates the order document and its orderNumbers index entry in a
	// single transaction; a duplicate order number surfaces as a conflict.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReviewRepository stores product reviews with one-review-per-user-per-product
// enforcement inside the insert transaction.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	Update(ctx context.Context, review domain.Review) (domain.Review, error)
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	FindByUserAndProduct(ctx context.Context, userID string, productID string) (domain.Review, error)
	ListByProduct(ctx context.Context, productID string, filter ReviewListFilter) (domain.CursorPage[domain.Review], error)
	// ListActiveByProduct returns every active review for a product, used when
	// recomputing the denormalized rating summary.
	ListActiveByProduct(ctx context.Context, productID string) ([]domain.Review, error)
	SoftDelete(ctx context.Context, reviewID string, deletedAt time.Time) (domain.Review, error)
}

// CartRepository owns the single cart document kept per user.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Clear(ctx context.Context, userID string, clearedAt time.Time) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Category   *string
	ActiveOnly bool
	SortBy     ProductSort
	SortOrder  domain.SortOrder
	Pagination domain.Pagination
}

// ProductSort enumerates supported ordering fields for product listings.
type ProductSort string

const (
	ProductSortCreatedAt ProductSort = "createdAt"
	ProductSortPrice     ProductSort = "price"
	ProductSortRating    ProductSort = "rating"
)

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ReviewListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

// RangeQuery bounds a list query between optional endpoints.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
