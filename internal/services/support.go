package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const orderIDPrefix = "ord_"

// Logger receives structured service events. Event names ending in .failed log at error.
type Logger func(ctx context.Context, event string, fields map[string]any)

func (l Logger) or() Logger {
	if l == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return l
}

func defaultOrderID() string {
	return orderIDPrefix + strings.ToLower(ulid.Make().String())
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

// eventSink publishes order events best effort; a failed publish is logged and swallowed
// because the order write it describes has already committed.
type eventSink struct {
	publisher OrderEventPublisher
	logger    Logger
	clock     func() time.Time
}

func (s eventSink) emit(ctx context.Context, eventType string, order Order, previous domain.OrderStatus, actor string) {
	if s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		PaymentStatus:  string(order.Payment.Status),
		Amount:         order.Pricing.Total,
		Currency:       order.Pricing.Currency,
		Actor:          actor,
		OccurredAt:     s.clock(),
	}
	if eventType == OrderEventRefunded && order.Refund != nil {
		event.Amount = order.Refund.Amount
	}
	if _, err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId": order.ID,
			"event":   eventType,
			"error":   err.Error(),
		})
	}
}

// writeOrder persists patch against the revision order was loaded at and advances it.
// A concurrent writer that committed first surfaces as ErrOrderConflict.
func writeOrder(ctx context.Context, orders repositories.OrderRepository, order *Order, patch repositories.OrderPatch) error {
	patch.UpdatedAt = order.UpdatedAt
	patch.Revision = order.Revision
	if err := orders.UpdateFields(ctx, order.ID, patch); err != nil {
		return persistError(err)
	}
	order.Revision++
	return nil
}

func loadOrder(ctx context.Context, orders repositories.OrderRepository, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}
