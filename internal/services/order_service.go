package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"
	orderEventPaymentMoved  = "order.payment.changed"

	orderIDPrefix = "ord_"

	// orderNumberInsertAttempts bounds retries when the orderNumbers index
	// reports a collision with a concurrently allocated number.
	orderNumberInsertAttempts = 3
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderForbidden indicates the actor may not access or mutate the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnavailable indicates a transient persistence failure the caller may retry.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// InvalidTransitionError reports the exact edge the state machine rejected.
// errors.Is matches ErrOrderInvalidState.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: invalid status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrOrderInvalidState
}

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

var paymentStateTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusFailed:  {domain.PaymentStatusPaid},
	domain.PaymentStatusPaid:    {domain.PaymentStatusRefunded},
}

var cancellableStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusConfirmed:  {},
	domain.OrderStatusProcessing: {},
}

var validPaymentMethods = map[domain.PaymentMethod]struct{}{
	domain.PaymentMethodCard:           {},
	domain.PaymentMethodBankTransfer:   {},
	domain.PaymentMethodCashOnDelivery: {},
	domain.PaymentMethodGateway:        {},
}

// OrderServiceDeps bundles collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Carts       repositories.CartRepository
	Inventory   InventoryService
	Counters    CounterService
	Pricing     *PricingEngine
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	carts     repositories.CartRepository
	inventory InventoryService
	counters  CounterService
	pricing   *PricingEngine
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		carts:     deps.Carts,
		inventory: deps.Inventory,
		counters:  deps.Counters,
		pricing:   deps.Pricing,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Checkout runs the full purchase pipeline: resolve lines, freeze prices,
// reserve stock, allocate an order number, and persist the order. Stock is
// restored whenever a step after reservation fails, so a failed checkout
// never leaves inventory in a partially committed state.
func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	if err := s.validateCheckoutCommand(cmd); err != nil {
		return Order{}, err
	}

	requested, err := s.resolveRequestedLines(ctx, cmd)
	if err != nil {
		return Order{}, err
	}

	items, priceLines, stockLines, err := s.freezeLineItems(ctx, requested)
	if err != nil {
		return Order{}, err
	}

	breakdown, err := s.pricing.Price(priceLines)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.clock()
	orderID := s.newID()

	if err := s.inventory.Reserve(ctx, StockReserveCommand{OrderID: orderID, Lines: stockLines}); err != nil {
		return Order{}, err
	}

	order := domain.Order{
		ID:            orderID,
		UserID:        cmd.UserID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: cmd.PaymentMethod,
		Currency:      breakdown.Currency,
		Items:         items,
		Totals: domain.OrderTotals{
			Subtotal: breakdown.Subtotal,
			Discount: breakdown.Discount,
			Tax:      breakdown.Tax,
			Shipping: breakdown.Shipping,
			Total:    breakdown.Total,
		},
		ShippingAddress: cmd.ShippingAddress,
		Notes:           strings.TrimSpace(cmd.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.insertWithOrderNumber(ctx, &order); err != nil {
		s.compensateReservation(ctx, orderID, stockLines, "checkout persist failed")
		return Order{}, err
	}

	s.clearCartAfterCheckout(ctx, cmd, now)

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		ActorID:     cmd.UserID,
		OccurredAt:  now,
		Metadata:    map[string]any{"total": order.Totals.Total},
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !opts.AllowStaff && order.UserID != opts.ActorID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	if err := s.applyStatusTransition(&order, cmd.Target, now); err != nil {
		return Order{}, err
	}

	if cmd.Target == domain.OrderStatusCancelled {
		// Cancellation through the generic transition endpoint still owes the
		// stock back; route through Cancel so compensation stays in one place.
		return s.Cancel(ctx, CancelOrderCommand{OrderID: orderID, ActorID: cmd.ActorID, AllowStaff: true})
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		ActorID:     cmd.ActorID,
		OccurredAt:  now,
	})

	return order, nil
}

func (s *orderService) TransitionPayment(ctx context.Context, cmd PaymentTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Target == "" {
		return Order{}, fmt.Errorf("%w: target payment status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !paymentTransitionAllowed(order.PaymentStatus, cmd.Target) {
		return Order{}, &InvalidTransitionError{From: string(order.PaymentStatus), To: string(cmd.Target)}
	}

	now := s.clock()
	order.PaymentStatus = cmd.Target
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventPaymentMoved,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		ActorID:     cmd.ActorID,
		OccurredAt:  now,
		Metadata:    map[string]any{"paymentStatus": string(order.PaymentStatus)},
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !cmd.AllowStaff && order.UserID != cmd.ActorID {
		return Order{}, ErrOrderForbidden
	}
	if _, ok := cancellableStatuses[order.Status]; !ok {
		return Order{}, &InvalidTransitionError{From: string(order.Status), To: string(domain.OrderStatusCancelled)}
	}

	now := s.clock()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// The reservation made at checkout is still held; give it back.
	release := StockReleaseCommand{OrderID: order.ID, Reason: strings.TrimSpace(cmd.Reason)}
	for _, item := range order.Items {
		release.Lines = append(release.Lines, StockLine{ProductRef: item.ProductRef, Quantity: item.Quantity})
	}
	if len(release.Lines) > 0 {
		if err := s.inventory.Release(ctx, release); err != nil {
			s.logger(ctx, "order_cancel_stock_release_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCancelled,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		ActorID:     cmd.ActorID,
		OccurredAt:  now,
	})

	return order, nil
}

func (s *orderService) validateCheckoutCommand(cmd CheckoutCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if _, ok := validPaymentMethods[cmd.PaymentMethod]; !ok {
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	addr := cmd.ShippingAddress
	if strings.TrimSpace(addr.Recipient) == "" {
		return fmt.Errorf("%w: shipping recipient is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: shipping address line1 is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: shipping country is required", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be >= 1", ErrOrderInvalidInput, i)
		}
	}
	return nil
}

// resolveRequestedLines prefers the explicit item list and falls back to the
// stored cart, merging duplicate products either way.
func (s *orderService) resolveRequestedLines(ctx context.Context, cmd CheckoutCommand) ([]CheckoutLine, error) {
	if len(cmd.Items) > 0 {
		return mergeCheckoutLines(cmd.Items), nil
	}

	if s.carts == nil {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	cart, err := s.carts.Get(ctx, cmd.UserID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
		}
		return nil, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}

	lines := make([]CheckoutLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, CheckoutLine{ProductID: item.ProductRef, Quantity: item.Quantity})
	}
	return mergeCheckoutLines(lines), nil
}

// freezeLineItems loads every product and copies its current name and price
// onto the order so later catalog edits never change what was agreed.
func (s *orderService) freezeLineItems(ctx context.Context, requested []CheckoutLine) ([]OrderLineItem, []PriceLine, []StockLine, error) {
	items := make([]OrderLineItem, 0, len(requested))
	priceLines := make([]PriceLine, 0, len(requested))
	stockLines := make([]StockLine, 0, len(requested))

	for _, line := range requested {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, nil, nil, fmt.Errorf("%w: product %s not found", ErrOrderInvalidInput, line.ProductID)
			}
			return nil, nil, nil, s.mapRepositoryError(err)
		}
		if !product.IsActive {
			return nil, nil, nil, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, line.ProductID)
		}

		items = append(items, domain.OrderLineItem{
			ProductRef: product.ID,
			Name:       product.Name,
			Quantity:   line.Quantity,
			UnitPrice:  product.Price,
			Total:      int64(line.Quantity) * product.Price,
		})
		priceLines = append(priceLines, PriceLine{
			ProductRef: product.ID,
			Quantity:   line.Quantity,
			UnitPrice:  product.Price,
		})
		stockLines = append(stockLines, StockLine{ProductRef: product.ID, Quantity: line.Quantity})
	}

	return items, priceLines, stockLines, nil
}

// insertWithOrderNumber allocates a sequence number and persists the order,
// retrying with a fresh number when the uniqueness index reports a collision.
func (s *orderService) insertWithOrderNumber(ctx context.Context, order *domain.Order) error {
	for attempt := 0; attempt < orderNumberInsertAttempts; attempt++ {
		number, err := s.counters.NextOrderNumber(ctx)
		if err != nil {
			return err
		}

		order.OrderNumber = number
		err = s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}

		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			s.logger(ctx, "order_number_collision", map[string]any{
				"orderId":     order.ID,
				"orderNumber": number,
				"attempt":     attempt + 1,
			})
			continue
		}
		return s.mapRepositoryError(err)
	}
	return fmt.Errorf("%w: order number allocation kept colliding", ErrOrderUnavailable)
}

func (s *orderService) compensateReservation(ctx context.Context, orderID string, lines []StockLine, reason string) {
	if err := s.inventory.Release(ctx, StockReleaseCommand{OrderID: orderID, Lines: lines, Reason: reason}); err != nil {
		s.logger(ctx, "checkout_stock_release_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

// clearCartAfterCheckout is best effort; a stale cart is an annoyance, not a
// correctness problem.
func (s *orderService) clearCartAfterCheckout(ctx context.Context, cmd CheckoutCommand, now time.Time) {
	if s.carts == nil || len(cmd.Items) > 0 {
		return
	}
	if err := s.carts.Clear(ctx, cmd.UserID, now); err != nil {
		s.logger(ctx, "checkout_cart_clear_failed", map[string]any{
			"userId": cmd.UserID,
			"error":  err.Error(),
		})
	}
}

func (s *orderService) applyStatusTransition(order *domain.Order, target domain.OrderStatus, now time.Time) error {
	if order.Status == target {
		return &InvalidTransitionError{From: string(order.Status), To: string(target)}
	}
	allowed := orderStateTransitions[order.Status]
	found := false
	for _, candidate := range allowed {
		if candidate == target {
			found = true
			break
		}
	}
	if !found {
		return &InvalidTransitionError{From: string(order.Status), To: string(target)}
	}

	// Refunding the order also refunds the payment, so the payment must be in
	// a refundable state first.
	if target == domain.OrderStatusRefunded &&
		!paymentTransitionAllowed(order.PaymentStatus, domain.PaymentStatusRefunded) {
		return &InvalidTransitionError{From: string(order.PaymentStatus), To: string(domain.PaymentStatusRefunded)}
	}

	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
		order.PaymentStatus = domain.PaymentStatusRefunded
	}
	return nil
}

func paymentTransitionAllowed(from, to domain.PaymentStatus) bool {
	for _, candidate := range paymentStateTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func mergeCheckoutLines(lines []CheckoutLine) []CheckoutLine {
	aggregated := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if _, ok := aggregated[id]; !ok {
			order = append(order, id)
		}
		aggregated[id] += line.Quantity
	}
	merged := make([]CheckoutLine, 0, len(order))
	for _, id := range order {
		merged = append(merged, CheckoutLine{ProductID: id, Quantity: aggregated[id]})
	}
	return merged
}
