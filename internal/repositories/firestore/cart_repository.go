package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists one cart document per user, keyed by user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// Get loads the cart for the given user ID.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert writes the full cart document keyed by user ID.
func (r *CartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		uid = strings.TrimSpace(cart.ID)
	}
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := newCartDocument(cart)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(uid)
	if !result.UpdateTime.IsZero() {
		saved.UpdatedAt = result.UpdateTime
	}
	return saved, nil
}

// Clear empties the cart items while keeping the document in place.
func (r *CartRepository) Clear(ctx context.Context, userID string, clearedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	now := clearedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := r.base.Set(ctx, uid, cartDocument{
		UserID:    uid,
		Items:     []cartItemDocument{},
		UpdatedAt: now,
	})
	return err
}

// Helper structures ---------------------------------------------------------

type cartDocument struct {
	UserID    string             `firestore:"userId"`
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductRef string    `firestore:"productRef"`
	Quantity   int       `firestore:"qty"`
	AddedAt    time.Time `firestore:"addedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Quantity:   item.Quantity,
			AddedAt:    item.AddedAt.UTC(),
		}
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		uid = strings.TrimSpace(cart.ID)
	}
	return cartDocument{
		UserID:    uid,
		Items:     items,
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Quantity:   item.Quantity,
			AddedAt:    item.AddedAt,
		}
	}
	return domain.Cart{
		ID:        id,
		UserID:    id,
		Items:     items,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
