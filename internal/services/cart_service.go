package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const cartMaxLineQuantity = 99

var (
	// ErrCartInvalidInput indicates validation failures for cart operations.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the product is not present in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
)

// CartServiceDeps bundles collaborators required to construct a cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	clock    func() time.Time
}

var _ CartService = (*cartService)(nil)

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{ID: userID, UserID: userID, UpdatedAt: s.clock()}, nil
		}
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be >= 1", ErrCartInvalidInput)
	}
	if cmd.Quantity > cartMaxLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds %d", ErrCartInvalidInput, cartMaxLineQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Cart{}, fmt.Errorf("%w: product %s not found", ErrCartInvalidInput, productID)
		}
		return Cart{}, err
	}
	if !product.IsActive {
		return Cart{}, fmt.Errorf("%w: product %s is not available", ErrCartInvalidInput, productID)
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	now := s.clock()
	found := false
	for i := range cart.Items {
		if cart.Items[i].ProductRef == productID {
			cart.Items[i].Quantity = cmd.Quantity
			found = true
			break
		}
	}
	if !found {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductRef: productID,
			Quantity:   cmd.Quantity,
			AddedAt:    now,
		})
	}
	cart.UpdatedAt = now

	return s.carts.Upsert(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	remaining := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ProductRef == productID {
			removed = true
			continue
		}
		remaining = append(remaining, item)
	}
	if !removed {
		return Cart{}, ErrCartItemNotFound
	}

	cart.Items = remaining
	cart.UpdatedAt = s.clock()
	return s.carts.Upsert(ctx, cart)
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.carts.Clear(ctx, userID, s.clock())
}
