package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
)

func newTestCartService(t *testing.T, carts *stubCartRepository, products *stubProductRepository) CartService {
	t.Helper()
	if products == nil {
		products = productRepoFromFixture(catalogFixture())
	}
	svc, err := NewCartService(CartServiceDeps{
		Carts:    carts,
		Products: products,
		Clock:    func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestCartServiceGetOrCreateReturnsEmptyCart(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, nil)

	cart, err := svc.GetOrCreateCart(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if cart.UserID != "user_1" {
		t.Fatalf("expected cart for user_1, got %q", cart.UserID)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
}

func TestCartServiceAddItemCreatesLine(t *testing.T) {
	carts := &stubCartRepository{}
	var upserted domain.Cart
	carts.upsertFn = func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
		upserted = cart
		return cart, nil
	}

	svc := newTestCartService(t, carts, nil)

	cart, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user_1",
		ProductID: "prd_a",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("expected one line x2, got %+v", cart.Items)
	}
	if upserted.UserID != "user_1" {
		t.Fatalf("expected upsert persisted, got %+v", upserted)
	}
}

func TestCartServiceAddItemReplacesQuantity(t *testing.T) {
	carts := &stubCartRepository{}
	carts.getFn = func(context.Context, string) (domain.Cart, error) {
		return domain.Cart{
			ID:     "user_1",
			UserID: "user_1",
			Items:  []domain.CartItem{{ProductRef: "prd_a", Quantity: 1}},
		}, nil
	}
	carts.upsertFn = func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
		return cart, nil
	}

	svc := newTestCartService(t, carts, nil)

	cart, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user_1",
		ProductID: "prd_a",
		Quantity:  5,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected single merged line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity replaced with 5, got %d", cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemValidation(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, nil)

	cases := []struct {
		name string
		cmd  UpsertCartItemCommand
	}{
		{name: "missing user", cmd: UpsertCartItemCommand{ProductID: "prd_a", Quantity: 1}},
		{name: "missing product", cmd: UpsertCartItemCommand{UserID: "user_1", Quantity: 1}},
		{name: "zero quantity", cmd: UpsertCartItemCommand{UserID: "user_1", ProductID: "prd_a", Quantity: 0}},
		{name: "excessive quantity", cmd: UpsertCartItemCommand{UserID: "user_1", ProductID: "prd_a", Quantity: 100}},
		{name: "unknown product", cmd: UpsertCartItemCommand{UserID: "user_1", ProductID: "prd_missing", Quantity: 1}},
		{name: "inactive product", cmd: UpsertCartItemCommand{UserID: "user_1", ProductID: "prd_x", Quantity: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddOrUpdateItem(context.Background(), tc.cmd); !errors.Is(err, ErrCartInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCartServiceRemoveItem(t *testing.T) {
	carts := &stubCartRepository{}
	carts.getFn = func(context.Context, string) (domain.Cart, error) {
		return domain.Cart{
			ID:     "user_1",
			UserID: "user_1",
			Items: []domain.CartItem{
				{ProductRef: "prd_a", Quantity: 1},
				{ProductRef: "prd_b", Quantity: 2},
			},
		}, nil
	}
	carts.upsertFn = func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
		return cart, nil
	}

	svc := newTestCartService(t, carts, nil)

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user_1", ProductID: "prd_a"})
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductRef != "prd_b" {
		t.Fatalf("expected only prd_b left, got %+v", cart.Items)
	}

	if _, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user_1", ProductID: "prd_missing"}); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
}

func TestCartServiceClearCart(t *testing.T) {
	carts := &stubCartRepository{}
	svc := newTestCartService(t, carts, nil)

	if err := svc.ClearCart(context.Background(), "user_1"); err != nil {
		t.Fatalf("clear cart: %v", err)
	}
	if len(carts.cleared) != 1 || carts.cleared[0] != "user_1" {
		t.Fatalf("expected clear persisted, got %v", carts.cleared)
	}

	if err := svc.ClearCart(context.Background(), "  "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
