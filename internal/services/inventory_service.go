package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const (
	eventStockReserved = "stock.reserved"
	eventStockReleased = "stock.released"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates at least one line exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryProductNotFound indicates a requested product does not exist.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
)

// InsufficientStockError reports every line that could not be satisfied by a
// reservation attempt. errors.Is matches ErrInventoryInsufficientStock so
// callers without interest in the detail can still branch on the sentinel.
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %d product(s)", len(e.Shortages))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInventoryInsufficientStock
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Events   StockEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	events   StockEventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		products: deps.Products,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd StockReserveCommand) error {
	lines, err := normaliseStockLines(cmd.Lines)
	if err != nil {
		return err
	}

	result, err := s.products.ReserveStock(ctx, repositories.StockReserveRequest{
		OrderRef: strings.TrimSpace(cmd.OrderID),
		Lines:    lines,
	})
	if err != nil {
		return s.mapStockError(err)
	}

	s.emitStockEvents(ctx, eventStockReserved, cmd.OrderID, lines, result.Remaining, -1)
	return nil
}

func (s *inventoryService) Release(ctx context.Context, cmd StockReleaseCommand) error {
	lines, err := normaliseStockLines(cmd.Lines)
	if err != nil {
		return err
	}

	result, err := s.products.RestoreStock(ctx, repositories.StockRestoreRequest{
		OrderRef: strings.TrimSpace(cmd.OrderID),
		Lines:    lines,
	})
	if err != nil {
		return s.mapStockError(err)
	}

	s.emitStockEvents(ctx, eventStockReleased, cmd.OrderID, lines, result.Remaining, 1)
	return nil
}

func (s *inventoryService) mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &InsufficientStockError{Shortages: stockErr.Shortages}
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, stockErr.Message)
		case repositories.StockErrorProductInactive:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, stockErr.Message)
		}
	}

	return err
}

func (s *inventoryService) emitStockEvents(ctx context.Context, eventType, orderID string, lines []StockLine, remaining map[string]int, sign int) {
	if s.events == nil {
		return
	}

	occurredAt := s.clock()
	orderRef := strings.TrimSpace(orderID)

	for _, line := range lines {
		event := domain.StockEvent{
			Type:       eventType,
			OrderRef:   orderRef,
			ProductRef: line.ProductRef,
			Delta:      sign * line.Quantity,
			Remaining:  remaining[line.ProductRef],
			OccurredAt: occurredAt,
		}
		if err := s.events.PublishStockEvent(ctx, event); err != nil {
			s.logger(ctx, "stock_event_publish_failed", map[string]any{
				"error":      err.Error(),
				"type":       eventType,
				"productRef": line.ProductRef,
			})
			return
		}
	}
}

// normaliseStockLines trims, validates, and merges duplicate product lines so
// the repository transaction always sees each product at most once.
func normaliseStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	aggregated := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" {
			return nil, fmt.Errorf("%w: line product is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, ref)
		}
		if _, ok := aggregated[ref]; !ok {
			order = append(order, ref)
		}
		aggregated[ref] += line.Quantity
	}

	result := make([]StockLine, 0, len(aggregated))
	for _, ref := range order {
		result = append(result, StockLine{ProductRef: ref, Quantity: aggregated[ref]})
	}
	if len(result) > 1 {
		sort.Slice(result, func(i, j int) bool { return result[i].ProductRef < result[j].ProductRef })
	}
	return result, nil
}
