package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const (
	maxOrderItems       = 50
	maxItemQuantity     = 99
	maxCancelReason     = 500
	defaultListPageSize = 20
	maxListPageSize     = 100
)

// PricingPolicy is the checkout policy applied to new orders. Amounts are minor units.
type PricingPolicy struct {
	DefaultCurrency       string
	TaxRateBasisPoints    int
	ShippingFee           int64
	FreeShippingThreshold int64
}

// OrderServiceDeps bundles constructor inputs for the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Gateway     PaymentGateway
	Events      OrderEventPublisher
	Numbers     *OrderNumberGenerator
	Pricing     PricingPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	gateway   PaymentGateway
	events    eventSink
	numbers   *OrderNumberGenerator
	pricing   PricingPolicy
	lifecycle Lifecycle
	clock     func() time.Time
	newID     func() string
	logger    Logger
}

// NewOrderService constructs the order service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	if deps.Pricing.TaxRateBasisPoints < 0 || deps.Pricing.ShippingFee < 0 {
		return nil, errors.New("order service: pricing policy must not be negative")
	}
	clock := utcClock(deps.Clock)
	logger := deps.Logger.or()
	numbers := deps.Numbers
	if numbers == nil {
		numbers = NewOrderNumberGenerator(deps.Orders, "", clock, logger)
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = defaultOrderID
	}
	pricing := deps.Pricing
	if currency, err := domain.NormalizeCurrency(pricing.DefaultCurrency); err == nil {
		pricing.DefaultCurrency = currency
	} else {
		pricing.DefaultCurrency = "USD"
	}
	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		gateway:   deps.Gateway,
		events:    eventSink{publisher: deps.Events, logger: logger, clock: clock},
		numbers:   numbers,
		pricing:   pricing,
		lifecycle: NewLifecycle(clock),
		clock:     clock,
		newID:     newID,
		logger:    logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	items, err := mergeItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	if !cmd.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	currency := s.pricing.DefaultCurrency
	if strings.TrimSpace(cmd.Currency) != "" {
		normalized, err := domain.NormalizeCurrency(cmd.Currency)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		currency = normalized
	}
	if cmd.ShippingAddress == nil {
		return Order{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	shipping, err := normalizeAddress(*cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	var billing *Address
	if cmd.BillingAddress != nil {
		addr, err := normalizeAddress(*cmd.BillingAddress)
		if err != nil {
			return Order{}, err
		}
		billing = &addr
	}

	refs := make([]string, 0, len(items))
	for _, item := range items {
		refs = append(refs, item.ProductRef)
	}
	prices, err := s.products.PricesFor(ctx, refs)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	now := s.clock()
	order := Order{
		ID:              s.newID(),
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		ShippingAddress: &shipping,
		BillingAddress:  billing,
		Notes:           textutil.PlainText(cmd.Notes, maxNotesLength),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range items {
		price, ok := prices[item.ProductRef]
		if !ok || !price.Active {
			return Order{}, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, item.ProductRef)
		}
		if strings.ToUpper(price.Currency) != currency {
			return Order{}, fmt.Errorf("%w: product %s is priced in %s, not %s", ErrOrderInvalidInput, item.ProductRef, price.Currency, currency)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductRef: item.ProductRef,
			Name:       price.Name,
			Quantity:   item.Quantity,
			UnitPrice:  price.UnitPrice,
		})
	}
	s.price(&order, currency)
	if order.Pricing.Total <= 0 {
		return Order{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	order.OrderNumber = s.numbers.Next(ctx)
	order.Payment = domain.OrderPayment{
		Method:   cmd.PaymentMethod,
		Status:   domain.PaymentStatusPending,
		Amount:   order.Pricing.Total,
		Currency: currency,
	}
	if cmd.PaymentMethod.RequiresGateway() {
		gwOrder, err := s.gateway.CreateOrder(ctx, payments.GatewayOrderRequest{
			OrderID:  order.ID,
			Amount:   order.Pricing.Total,
			Currency: currency,
			Receipt:  order.OrderNumber,
			Method:   cmd.PaymentMethod,
			Metadata: map[string]string{"orderId": order.ID, "userId": userID},
		})
		if err != nil {
			s.logger(ctx, "order.gateway.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			return Order{}, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		order.Payment.GatewayOrderID = gwOrder.ID
		order.Payment.Provider = gwOrder.Provider
	} else {
		order.Payment.Provider = payments.ProviderOffline
	}

	s.lifecycle.AppendTimelineEntry(&order, string(domain.OrderStatusPending), "Order placed", domain.UserActor(userID))
	order.UpdatedAt = order.CreatedAt

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "order.insert.failed", map[string]any{
			"orderId":        order.ID,
			"gatewayOrderId": order.Payment.GatewayOrderID,
			"error":          err.Error(),
		})
		if mapped := mapRepositoryError(err); errors.Is(mapped, ErrOrderConflict) {
			return Order{}, mapped
		}
		return Order{}, persistError(err)
	}
	s.logger(ctx, "order.created", map[string]any{"orderId": order.ID, "orderNumber": order.OrderNumber, "total": order.Pricing.Total})
	s.events.emit(ctx, OrderEventCreated, order, "", domain.UserActor(userID))
	return order, nil
}

// price applies tax (basis points, rounded half up) and the shipping rule.
func (s *orderService) price(order *Order, currency string) {
	order.Pricing = domain.OrderPricing{Currency: currency}
	ComputeTotals(order)
	subtotal := order.Pricing.Subtotal
	order.Pricing.Tax = (subtotal*int64(s.pricing.TaxRateBasisPoints) + 5_000) / 10_000
	if s.pricing.FreeShippingThreshold <= 0 || subtotal < s.pricing.FreeShippingThreshold {
		order.Pricing.Shipping = s.pricing.ShippingFee
	}
	ComputeTotals(order)
}

func mergeItems(items []CreateOrderItem) ([]CreateOrderItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	merged := make([]CreateOrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		ref := strings.TrimSpace(item.ProductRef)
		if ref == "" {
			return nil, fmt.Errorf("%w: product reference is required", ErrOrderInvalidInput)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be at least 1", ErrOrderInvalidInput, ref)
		}
		if i, ok := index[ref]; ok {
			merged[i].Quantity += item.Quantity
		} else {
			index[ref] = len(merged)
			merged = append(merged, CreateOrderItem{ProductRef: ref, Quantity: item.Quantity})
		}
	}
	if len(merged) > maxOrderItems {
		return nil, fmt.Errorf("%w: at most %d distinct items", ErrOrderInvalidInput, maxOrderItems)
	}
	for _, item := range merged {
		if item.Quantity > maxItemQuantity {
			return nil, fmt.Errorf("%w: quantity for %s exceeds %d", ErrOrderInvalidInput, item.ProductRef, maxItemQuantity)
		}
	}
	return merged, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	order, err := loadOrder(ctx, s.orders, orderID)
	if err != nil {
		return Order{}, err
	}
	if uid := strings.TrimSpace(opts.UserID); uid != "" && order.UserID != uid {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	size := filter.Pagination.PageSize
	switch {
	case size <= 0:
		size = defaultListPageSize
	case size > maxListPageSize:
		size = maxListPageSize
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	if r := filter.DateRange; r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: date range end precedes start", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Statuses:   filter.Statuses,
		DateRange:  filter.DateRange,
		Pagination: domain.Pagination{PageSize: size, PageToken: filter.Pagination.PageToken},
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	actor := domain.AdminActor(cmd.ActorID)
	if !cmd.IsAdmin {
		if order.UserID != strings.TrimSpace(cmd.ActorID) {
			return Order{}, ErrOrderNotFound
		}
		actor = domain.UserActor(cmd.ActorID)
	}
	cancellable := []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed}
	if cmd.IsAdmin {
		cancellable = append(cancellable, domain.OrderStatusProcessing)
	}
	if !slices.Contains(cancellable, order.Status) {
		return Order{}, fmt.Errorf("%w: cannot cancel a %s order", ErrOrderInvalidState, order.Status)
	}

	previous := order.Status
	reason := textutil.PlainText(cmd.Reason, maxCancelReason)
	message := "Order cancelled"
	if reason != "" {
		message += ": " + reason
	}
	entry, err := s.lifecycle.TransitionStatus(&order, domain.OrderStatusCancelled, message, actor)
	if err != nil {
		return Order{}, err
	}
	status := order.Status
	patch := repositories.OrderPatch{Status: &status, AppendTimeline: []domain.TimelineEntry{entry}}
	if reason != "" {
		order.CancelReason = &reason
		patch.CancelReason = &reason
	}
	if err := writeOrder(ctx, s.orders, &order, patch); err != nil {
		return Order{}, err
	}
	s.events.emit(ctx, OrderEventStatusChanged, order, previous, actor)
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	return s.changeStatus(ctx, cmd, false)
}

func (s *orderService) OverrideStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	return s.changeStatus(ctx, cmd, true)
}

func (s *orderService) changeStatus(ctx context.Context, cmd OrderStatusCommand, override bool) (Order, error) {
	next, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	// Online orders are confirmed by payment reconciliation, not by hand.
	if !override && next == domain.OrderStatusConfirmed && order.Payment.Method.RequiresGateway() && !order.Payment.Status.Settled() {
		return Order{}, fmt.Errorf("%w: payment has not been captured", ErrOrderInvalidState)
	}

	previous := order.Status
	actor := domain.AdminActor(cmd.ActorID)
	message := strings.TrimSpace(cmd.Message)
	if message == "" {
		message = "Status changed to " + string(next)
	}
	var entry domain.TimelineEntry
	if override {
		entry, err = s.lifecycle.OverrideStatus(&order, next, message, actor)
	} else {
		entry, err = s.lifecycle.TransitionStatus(&order, next, message, actor)
	}
	if err != nil {
		return Order{}, err
	}
	status := order.Status
	patch := repositories.OrderPatch{Status: &status, AppendTimeline: []domain.TimelineEntry{entry}}

	// Cash is collected at the door.
	if next == domain.OrderStatusDelivered && order.Payment.Method == domain.PaymentMethodCOD && order.Payment.Status == domain.PaymentStatusPending {
		paidAt := entry.Timestamp
		order.Payment.Status = domain.PaymentStatusPaid
		order.Payment.PaidAt = &paidAt
		payment := order.Payment
		patch.Payment = &payment
	}
	if err := writeOrder(ctx, s.orders, &order, patch); err != nil {
		return Order{}, err
	}
	s.events.emit(ctx, OrderEventStatusChanged, order, previous, actor)
	return order, nil
}

func (s *orderService) ApplyEdits(ctx context.Context, cmd EditOrderCommand) (Order, error) {
	if len(cmd.Edits) == 0 {
		return Order{}, fmt.Errorf("%w: no edits supplied", ErrOrderInvalidInput)
	}
	seen := make(map[string]struct{}, len(cmd.Edits))
	for _, edit := range cmd.Edits {
		if edit == nil {
			return Order{}, fmt.Errorf("%w: empty edit", ErrOrderInvalidInput)
		}
		if _, dup := seen[edit.Kind()]; dup {
			return Order{}, fmt.Errorf("%w: duplicate %s edit", ErrOrderInvalidInput, edit.Kind())
		}
		seen[edit.Kind()] = struct{}{}
	}
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	var patch repositories.OrderPatch
	payable := order.Payment.Amount
	kinds := make([]string, 0, len(cmd.Edits))
	for _, edit := range cmd.Edits {
		if err := edit.apply(&order, &patch); err != nil {
			return Order{}, err
		}
		kinds = append(kinds, edit.Kind())
	}
	if err := s.amendGatewayOrder(ctx, order, payable); err != nil {
		return Order{}, err
	}
	entry := s.lifecycle.AppendTimelineEntry(&order, string(order.Status), "Order edited: "+strings.Join(kinds, ", "), domain.AdminActor(cmd.ActorID))
	patch.AppendTimeline = []domain.TimelineEntry{entry}
	if err := writeOrder(ctx, s.orders, &order, patch); err != nil {
		if order.Payment.Amount != payable && order.Payment.GatewayOrderID != "" {
			s.logger(ctx, "order.gateway.amend.orphaned", map[string]any{
				"orderId":        order.ID,
				"gatewayOrderId": order.Payment.GatewayOrderID,
				"amount":         order.Payment.Amount,
			})
		}
		return Order{}, err
	}
	return order, nil
}

// amendGatewayOrder moves the open gateway order to the new payable amount so the capture
// the customer makes still matches the stored payment.
func (s *orderService) amendGatewayOrder(ctx context.Context, order Order, previous int64) error {
	if order.Payment.Amount == previous || order.Payment.GatewayOrderID == "" {
		return nil
	}
	err := s.gateway.AmendOrder(ctx, payments.GatewayAmendRequest{
		GatewayOrderID: order.Payment.GatewayOrderID,
		Amount:         order.Payment.Amount,
		Currency:       order.Payment.Currency,
		Method:         order.Payment.Method,
	})
	if err != nil {
		s.logger(ctx, "order.gateway.amend.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return nil
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID string) error {
	order, err := loadOrder(ctx, s.orders, orderID)
	if err != nil {
		return err
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		return mapRepositoryError(err)
	}
	s.logger(ctx, "order.deleted", map[string]any{"orderId": order.ID})
	s.events.emit(ctx, OrderEventDeleted, order, "", domain.ActorSystem)
	return nil
}

func (s *orderService) Stats(ctx context.Context, query OrderStatsQuery) (OrderStats, error) {
	if r := query.DateRange; r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return OrderStats{}, fmt.Errorf("%w: date range end precedes start", ErrOrderInvalidInput)
	}
	agg, err := s.orders.Aggregate(ctx, repositories.OrderAggregateFilter{DateRange: query.DateRange})
	if err != nil {
		return OrderStats{}, mapRepositoryError(err)
	}
	byStatus := make(map[domain.OrderStatus]int64, len(agg.ByStatus))
	for status, count := range agg.ByStatus {
		byStatus[status] = count
	}
	return OrderStats{
		TotalOrders:    agg.TotalOrders,
		ByStatus:       byStatus,
		PaidRevenue:    agg.PaidRevenue,
		RefundedAmount: agg.RefundedAmount,
		GeneratedAt:    s.clock(),
	}, nil
}
