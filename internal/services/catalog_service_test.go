package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
)

func newTestCatalogService(t *testing.T, repo *stubProductRepository) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: repo,
		Clock:    func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func TestCatalogServiceCreateProduct(t *testing.T) {
	var inserted domain.Product
	repo := &stubProductRepository{}
	repo.insertFn = func(_ context.Context, product domain.Product) error {
		inserted = product
		return nil
	}

	svc := newTestCatalogService(t, repo)

	product, err := svc.CreateProduct(context.Background(), CreateProductCommand{
		Name:     "  Walnut desk organiser ",
		Price:    2500,
		Currency: "usd",
		Stock:    10,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if !strings.HasPrefix(product.ID, "prd_") {
		t.Fatalf("expected prd_ id prefix, got %s", product.ID)
	}
	if product.Name != "Walnut desk organiser" {
		t.Fatalf("expected trimmed name, got %q", product.Name)
	}
	if product.Currency != "USD" {
		t.Fatalf("expected upper-cased currency, got %s", product.Currency)
	}
	if inserted.ID != product.ID {
		t.Fatalf("expected insert call with same product")
	}
}

func TestCatalogServiceCreateProductValidation(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepository{})

	cases := []struct {
		name string
		cmd  CreateProductCommand
	}{
		{name: "missing name", cmd: CreateProductCommand{Price: 10, Currency: "USD"}},
		{name: "negative price", cmd: CreateProductCommand{Name: "x", Price: -1, Currency: "USD"}},
		{name: "negative stock", cmd: CreateProductCommand{Name: "x", Price: 1, Stock: -1, Currency: "USD"}},
		{name: "missing currency", cmd: CreateProductCommand{Name: "x", Price: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateProduct(context.Background(), tc.cmd); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCatalogServiceUpdateProductPartial(t *testing.T) {
	repo := productRepoFromFixture(catalogFixture())
	var updated domain.Product
	repo.updateFn = func(_ context.Context, product domain.Product) error {
		updated = product
		return nil
	}

	svc := newTestCatalogService(t, repo)

	newPrice := int64(120)
	inactive := false
	product, err := svc.UpdateProduct(context.Background(), UpdateProductCommand{
		ProductID: "prd_a",
		Price:     &newPrice,
		Active:    &inactive,
	})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}

	if product.Price != 120 {
		t.Fatalf("expected price 120, got %d", product.Price)
	}
	if product.IsActive {
		t.Fatalf("expected product deactivated")
	}
	// Untouched fields survive the partial update.
	if product.Name != "Walnut desk organiser" {
		t.Fatalf("expected name preserved, got %q", product.Name)
	}
	if updated.ID != "prd_a" {
		t.Fatalf("expected update persisted for prd_a, got %q", updated.ID)
	}
}

func TestCatalogServiceUpdateUnknownProduct(t *testing.T) {
	svc := newTestCatalogService(t, productRepoFromFixture(catalogFixture()))

	name := "renamed"
	_, err := svc.UpdateProduct(context.Background(), UpdateProductCommand{ProductID: "prd_missing", Name: &name})
	if !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceSetStock(t *testing.T) {
	repo := &stubProductRepository{}
	repo.setStockFn = func(_ context.Context, productID string, quantity int, _ time.Time) (domain.Product, error) {
		return domain.Product{ID: productID, Stock: quantity}, nil
	}

	svc := newTestCatalogService(t, repo)

	product, err := svc.SetStock(context.Background(), SetStockCommand{ProductID: "prd_a", Quantity: 7, ActorID: "admin_1"})
	if err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if product.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", product.Stock)
	}

	if _, err := svc.SetStock(context.Background(), SetStockCommand{ProductID: "prd_a", Quantity: -1}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for negative stock, got %v", err)
	}
}

func TestCatalogServiceListPassesFilter(t *testing.T) {
	repo := &stubProductRepository{}
	var gotFilter ProductListFilter
	repo.listFn = func(_ context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error) {
		gotFilter = filter
		return domain.CursorPage[domain.Product]{Items: []domain.Product{{ID: "prd_a"}}}, nil
	}

	svc := newTestCatalogService(t, repo)

	category := "desk"
	page, err := svc.ListProducts(context.Background(), ProductListFilter{
		Category:   &category,
		ActiveOnly: true,
		Pagination: domain.Pagination{PageSize: 20},
	})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(page.Items))
	}
	if gotFilter.Category == nil || *gotFilter.Category != "desk" || !gotFilter.ActiveOnly {
		t.Fatalf("expected filter propagated, got %+v", gotFilter)
	}
}
