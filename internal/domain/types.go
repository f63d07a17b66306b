package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Rating aggregates review feedback denormalized onto a product document.
type Rating struct {
	Average float64
	Count   int
}

// Product represents a sellable catalog item with denormalized stock and rating.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       int64
	Currency    string
	Stock       int
	IsActive    bool
	Rating      Rating
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been placed but not yet confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the order has been accepted for fulfilment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order has reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates a shipped or delivered order was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus enumerates the payment sub-state tracked alongside order status.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been captured yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates payment was captured successfully.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the last capture attempt failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the captured amount was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod enumerates the settlement channels accepted at checkout.
type PaymentMethod string

const (
	// PaymentMethodCard settles via a stored card reference.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodBankTransfer settles via manual bank transfer.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodCashOnDelivery settles on delivery.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	// PaymentMethodGateway settles through an external payment gateway.
	PaymentMethodGateway PaymentMethod = "gateway"
)

// Order captures an immutable purchase record with denormalized line items.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	Currency        string
	Items           []OrderLineItem
	Totals          OrderTotals
	ShippingAddress Address
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
}

// OrderLineItem mirrors product data at the time of checkout so later catalog
// edits never change what the customer agreed to pay.
type OrderLineItem struct {
	ProductRef string
	Name       string
	Quantity   int
	UnitPrice  int64
	Total      int64
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
}

// Address represents the postal address captured on an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// Review captures user feedback on a purchased product.
type Review struct {
	ID         string
	ProductRef string
	UserRef    string
	Rating     int
	Title      string
	Comment    string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem stores an intended purchase line within a cart.
type CartItem struct {
	ProductRef string
	Quantity   int
	AddedAt    time.Time
}

// StockLine carries a per-product quantity for reservation and release.
type StockLine struct {
	ProductRef string
	Quantity   int
}

// StockShortage describes one line that could not be satisfied during a
// reservation attempt.
type StockShortage struct {
	ProductRef string
	Requested  int
	Available  int
}

// StockEvent captures stock adjustments for downstream analytics/audit.
type StockEvent struct {
	Type       string
	OrderRef   string
	ProductRef string
	Delta      int
	Remaining  int
	OccurredAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
