package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

type stubProductRepository struct {
	mu              sync.Mutex
	insertFn        func(context.Context, domain.Product) error
	updateFn        func(context.Context, domain.Product) error
	findByIDFn      func(context.Context, string) (domain.Product, error)
	listFn          func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	reserveStockFn  func(context.Context, repositories.StockReserveRequest) (repositories.StockReserveResult, error)
	restoreStockFn  func(context.Context, repositories.StockRestoreRequest) (repositories.StockRestoreResult, error)
	setStockFn      func(context.Context, string, int, time.Time) (domain.Product, error)
	updateRatingFn  func(context.Context, string, domain.Rating, time.Time) error
	reserveRequests []repositories.StockReserveRequest
	restoreRequests []repositories.StockRestoreRequest
}

func (s *stubProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepository) Update(ctx context.Context, product domain.Product) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, productID)
	}
	return domain.Product{}, nil
}

func (s *stubProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepository) ReserveStock(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	s.mu.Lock()
	s.reserveRequests = append(s.reserveRequests, req)
	s.mu.Unlock()
	if s.reserveStockFn != nil {
		return s.reserveStockFn(ctx, req)
	}
	return repositories.StockReserveResult{}, nil
}

func (s *stubProductRepository) RestoreStock(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockRestoreResult, error) {
	s.mu.Lock()
	s.restoreRequests = append(s.restoreRequests, req)
	s.mu.Unlock()
	if s.restoreStockFn != nil {
		return s.restoreStockFn(ctx, req)
	}
	return repositories.StockRestoreResult{}, nil
}

func (s *stubProductRepository) SetStock(ctx context.Context, productID string, quantity int, updatedAt time.Time) (domain.Product, error) {
	if s.setStockFn != nil {
		return s.setStockFn(ctx, productID, quantity, updatedAt)
	}
	return domain.Product{}, nil
}

func (s *stubProductRepository) UpdateRating(ctx context.Context, productID string, rating domain.Rating, updatedAt time.Time) error {
	if s.updateRatingFn != nil {
		return s.updateRatingFn(ctx, productID, rating, updatedAt)
	}
	return nil
}

type stubStockEventPublisher struct {
	mu     sync.Mutex
	events []domain.StockEvent
	err    error
}

func (s *stubStockEventPublisher) PublishStockEvent(_ context.Context, event domain.StockEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func TestInventoryServiceReserveAggregatesLines(t *testing.T) {
	repo := &stubProductRepository{}
	repo.reserveStockFn = func(_ context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
		remaining := make(map[string]int, len(req.Lines))
		for _, line := range req.Lines {
			remaining[line.ProductRef] = 10 - line.Quantity
		}
		return repositories.StockReserveResult{Remaining: remaining}, nil
	}
	events := &stubStockEventPublisher{}

	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo, Events: events})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	err = svc.Reserve(context.Background(), StockReserveCommand{
		OrderID: "ord_1",
		Lines: []StockLine{
			{ProductRef: "prd_b", Quantity: 2},
			{ProductRef: "prd_a", Quantity: 1},
			{ProductRef: "prd_b", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if len(repo.reserveRequests) != 1 {
		t.Fatalf("expected one reserve request, got %d", len(repo.reserveRequests))
	}
	lines := repo.reserveRequests[0].Lines
	if len(lines) != 2 {
		t.Fatalf("expected duplicate lines merged into 2, got %d", len(lines))
	}
	if lines[0].ProductRef != "prd_a" || lines[0].Quantity != 1 {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].ProductRef != "prd_b" || lines[1].Quantity != 5 {
		t.Fatalf("unexpected second line %+v", lines[1])
	}

	if len(events.events) != 2 {
		t.Fatalf("expected 2 stock events, got %d", len(events.events))
	}
	if events.events[1].Delta != -5 {
		t.Fatalf("expected delta -5, got %d", events.events[1].Delta)
	}
	if events.events[1].Remaining != 5 {
		t.Fatalf("expected remaining 5, got %d", events.events[1].Remaining)
	}
	if events.events[0].Type != "stock.reserved" {
		t.Fatalf("expected stock.reserved event, got %s", events.events[0].Type)
	}
}

func TestInventoryServiceReserveValidatesInput(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	cases := []struct {
		name  string
		lines []StockLine
	}{
		{name: "empty", lines: nil},
		{name: "blank product", lines: []StockLine{{ProductRef: " ", Quantity: 1}}},
		{name: "zero quantity", lines: []StockLine{{ProductRef: "prd_a", Quantity: 0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Reserve(context.Background(), StockReserveCommand{OrderID: "ord_1", Lines: tc.lines})
			if !errors.Is(err, ErrInventoryInvalidInput) {
				t.Fatalf("expected invalid input error, got %v", err)
			}
		})
	}
}

func TestInventoryServiceReserveSurfacesShortages(t *testing.T) {
	shortages := []domain.StockShortage{
		{ProductRef: "prd_a", Requested: 5, Available: 2},
		{ProductRef: "prd_b", Requested: 3, Available: 0},
	}
	repo := &stubProductRepository{}
	repo.reserveStockFn = func(context.Context, repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
		return repositories.StockReserveResult{}, repositories.NewInsufficientStockError(shortages)
	}
	events := &stubStockEventPublisher{}

	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo, Events: events})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	err = svc.Reserve(context.Background(), StockReserveCommand{
		OrderID: "ord_1",
		Lines:   []StockLine{{ProductRef: "prd_a", Quantity: 5}, {ProductRef: "prd_b", Quantity: 3}},
	})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if len(insufficient.Shortages) != 2 {
		t.Fatalf("expected both shortages reported, got %d", len(insufficient.Shortages))
	}

	if len(events.events) != 0 {
		t.Fatalf("expected no events on failed reserve, got %d", len(events.events))
	}
}

func TestInventoryServiceReleaseRestoresStock(t *testing.T) {
	repo := &stubProductRepository{}
	repo.restoreStockFn = func(_ context.Context, req repositories.StockRestoreRequest) (repositories.StockRestoreResult, error) {
		remaining := make(map[string]int, len(req.Lines))
		for _, line := range req.Lines {
			remaining[line.ProductRef] = line.Quantity
		}
		return repositories.StockRestoreResult{Remaining: remaining}, nil
	}
	events := &stubStockEventPublisher{}

	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo, Events: events})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	err = svc.Release(context.Background(), StockReleaseCommand{
		OrderID: "ord_1",
		Lines:   []StockLine{{ProductRef: "prd_a", Quantity: 4}},
		Reason:  "checkout failed",
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	if len(repo.restoreRequests) != 1 {
		t.Fatalf("expected one restore request, got %d", len(repo.restoreRequests))
	}
	if len(events.events) != 1 {
		t.Fatalf("expected one stock event, got %d", len(events.events))
	}
	if events.events[0].Type != "stock.released" {
		t.Fatalf("expected stock.released event, got %s", events.events[0].Type)
	}
	if events.events[0].Delta != 4 {
		t.Fatalf("expected positive delta, got %d", events.events[0].Delta)
	}
}

func TestInventoryServiceConcurrentReservesNeverOverCommit(t *testing.T) {
	const initialStock = 10
	const workers = 25

	var stockMu sync.Mutex
	stock := map[string]int{"prd_a": initialStock}

	repo := &stubProductRepository{}
	repo.reserveStockFn = func(_ context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
		stockMu.Lock()
		defer stockMu.Unlock()
		var shortages []domain.StockShortage
		for _, line := range req.Lines {
			if available := stock[line.ProductRef]; available < line.Quantity {
				shortages = append(shortages, domain.StockShortage{
					ProductRef: line.ProductRef,
					Requested:  line.Quantity,
					Available:  available,
				})
			}
		}
		if len(shortages) > 0 {
			return repositories.StockReserveResult{}, repositories.NewInsufficientStockError(shortages)
		}
		remaining := make(map[string]int, len(req.Lines))
		for _, line := range req.Lines {
			stock[line.ProductRef] -= line.Quantity
			remaining[line.ProductRef] = stock[line.ProductRef]
		}
		return repositories.StockReserveResult{Remaining: remaining}, nil
	}

	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			errs[idx] = svc.Reserve(context.Background(), StockReserveCommand{
				OrderID: "ord_1",
				Lines:   []StockLine{{ProductRef: "prd_a", Quantity: 1}},
			})
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, ErrInventoryInsufficientStock):
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}

	if committed != initialStock {
		t.Fatalf("expected exactly %d reservations to commit, got %d", initialStock, committed)
	}
	stockMu.Lock()
	remaining := stock["prd_a"]
	stockMu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected stock drained to zero, got %d", remaining)
	}
}

func TestInventoryServicePublishFailureDoesNotFailReserve(t *testing.T) {
	repo := &stubProductRepository{}
	events := &stubStockEventPublisher{err: errors.New("pubsub down")}
	var logged []string

	svc, err := NewInventoryService(InventoryServiceDeps{
		Products: repo,
		Events:   events,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	err = svc.Reserve(context.Background(), StockReserveCommand{
		OrderID: "ord_1",
		Lines:   []StockLine{{ProductRef: "prd_a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("reserve should succeed despite publish failure: %v", err)
	}
	if len(logged) != 1 || logged[0] != "stock_event_publish_failed" {
		t.Fatalf("expected publish failure logged, got %v", logged)
	}
}
