package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/oakmart/storefront-api/internal/domain"
	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

// OrderRepository persists order documents alongside an orderNumbers index
// collection that guarantees order number uniqueness across concurrent writers.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	numbers  *pfirestore.BaseRepository[orderNumberDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	numbers := pfirestore.NewBaseRepository[orderNumberDocument](provider, orderNumbersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders, numbers: numbers}, nil
}

// Insert creates the order document and claims its order number index entry in
// one transaction. A previously claimed number aborts with a conflict so the
// caller can draw a fresh sequence value and retry.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	number := strings.TrimSpace(order.OrderNumber)
	if number == "" {
		return errors.New("order repository: order number is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		numberRef, err := r.numbers.DocumentRef(ctx, number)
		if err != nil {
			return err
		}

		// tx.Create fails with AlreadyExists when another writer holds the number.
		if err := tx.Create(numberRef, orderNumberDocument{
			OrderRef:  id,
			ClaimedAt: order.CreatedAt.UTC(),
		}); err != nil {
			return err
		}
		return tx.Create(orderRef, newOrderDocument(order))
	})
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document. Orders are never deleted.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.orders.Set(ctx, id, newOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads one order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest first, scoped to one user when filter.UserID is
// set, with optional status and date filters.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID := strings.TrimSpace(filter.UserID)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	// An empty user id scopes the query to the whole store (admin listing).
	query := client.Collection(ordersCollection).Query
	if userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) == 1 {
		query = query.Where("status", "==", strings.TrimSpace(filter.Status[0]))
	} else if len(filter.Status) > 1 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				statuses = append(statuses, trimmed)
			}
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextToken, err = encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	Status          string              `firestore:"status"`
	PaymentStatus   string              `firestore:"paymentStatus"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	Currency        string              `firestore:"currency"`
	Items           []orderItemDocument `firestore:"items"`
	Totals          orderTotalsDocument `firestore:"totals"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	Notes           string              `firestore:"notes,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	RefundedAt      *time.Time          `firestore:"refundedAt,omitempty"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Total      int64  `firestore:"total"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Tax      int64 `firestore:"tax"`
	Shipping int64 `firestore:"shipping"`
	Total    int64 `firestore:"total"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type orderNumberDocument struct {
	OrderRef  string    `firestore:"orderRef"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		}
	}
	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:         items,
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Tax:      order.Totals.Tax,
			Shipping: order.Totals.Shipping,
			Total:    order.Totals.Total,
		},
		ShippingAddress: addressDocument{
			Recipient:  strings.TrimSpace(order.ShippingAddress.Recipient),
			Line1:      strings.TrimSpace(order.ShippingAddress.Line1),
			Line2:      order.ShippingAddress.Line2,
			City:       strings.TrimSpace(order.ShippingAddress.City),
			State:      order.ShippingAddress.State,
			PostalCode: strings.TrimSpace(order.ShippingAddress.PostalCode),
			Country:    strings.ToUpper(strings.TrimSpace(order.ShippingAddress.Country)),
			Phone:      order.ShippingAddress.Phone,
		},
		Notes:       strings.TrimSpace(order.Notes),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		DeliveredAt: order.DeliveredAt,
		CancelledAt: order.CancelledAt,
		RefundedAt:  order.RefundedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		}
	}
	return domain.Order{
		ID:            id,
		OrderNumber:   strings.TrimSpace(d.OrderNumber),
		UserID:        strings.TrimSpace(d.UserID),
		Status:        domain.OrderStatus(strings.TrimSpace(d.Status)),
		PaymentStatus: domain.PaymentStatus(strings.TrimSpace(d.PaymentStatus)),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(d.PaymentMethod)),
		Currency:      strings.ToUpper(strings.TrimSpace(d.Currency)),
		Items:         items,
		Totals: domain.OrderTotals{
			Subtotal: d.Totals.Subtotal,
			Discount: d.Totals.Discount,
			Tax:      d.Totals.Tax,
			Shipping: d.Totals.Shipping,
			Total:    d.Totals.Total,
		},
		ShippingAddress: domain.Address{
			Recipient:  strings.TrimSpace(d.ShippingAddress.Recipient),
			Line1:      strings.TrimSpace(d.ShippingAddress.Line1),
			Line2:      d.ShippingAddress.Line2,
			City:       strings.TrimSpace(d.ShippingAddress.City),
			State:      d.ShippingAddress.State,
			PostalCode: strings.TrimSpace(d.ShippingAddress.PostalCode),
			Country:    strings.ToUpper(strings.TrimSpace(d.ShippingAddress.Country)),
			Phone:      d.ShippingAddress.Phone,
		},
		Notes:       d.Notes,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		DeliveredAt: d.DeliveredAt,
		CancelledAt: d.CancelledAt,
		RefundedAt:  d.RefundedAt,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
