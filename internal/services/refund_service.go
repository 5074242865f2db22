package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const maxRefundReason = 500

// RefundServiceDeps bundles constructor inputs for the refund engine.
type RefundServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway PaymentGateway
	Events  OrderEventPublisher
	Clock   func() time.Time
	Logger  Logger
}

type refundService struct {
	orders    repositories.OrderRepository
	gateway   PaymentGateway
	events    eventSink
	lifecycle Lifecycle
	clock     func() time.Time
	logger    Logger
}

// NewRefundService constructs the refund engine.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund service: payment gateway is required")
	}
	clock := utcClock(deps.Clock)
	logger := deps.Logger.or()
	return &refundService{
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		events:    eventSink{publisher: deps.Events, logger: logger, clock: clock},
		lifecycle: NewLifecycle(clock),
		clock:     clock,
		logger:    logger,
	}, nil
}

func (s *refundService) CreateRefund(ctx context.Context, cmd CreateRefundCommand) (order Order, err error) {
	ctx, span := observability.StartSpan(ctx, "payments.refund", attribute.String("order.id", cmd.OrderID))
	defer func() { observability.EndSpan(span, err) }()

	order, err = loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Payment.Status != domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: payment is %s", ErrNotRefundable, order.Payment.Status)
	}
	if order.Status != domain.OrderStatusDelivered && order.Status != domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order is %s", ErrNotRefundable, order.Status)
	}
	amount := order.Pricing.Total
	if cmd.Amount != nil {
		amount = *cmd.Amount
	}
	if amount <= 0 || amount > order.Pricing.Total {
		return Order{}, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrOrderInvalidInput, order.Pricing.Total)
	}
	reason := textutil.PlainText(cmd.Reason, maxRefundReason)
	if reason == "" {
		reason = "requested_by_customer"
	}

	requestedAt := s.clock()
	gwRefund, err := s.gateway.Refund(ctx, payments.GatewayRefundRequest{
		TransactionID:  order.Payment.TransactionID,
		Amount:         amount,
		Reason:         reason,
		Method:         order.Payment.Method,
		IdempotencyKey: refundIdempotencyKey(order, amount),
	})
	if err != nil {
		s.logger(ctx, "refund.gateway.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return Order{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	span.SetAttributes(attribute.String("refund.id", gwRefund.ID))

	processed := s.clock()
	refund := domain.OrderRefund{
		Amount:          amount,
		Reason:          reason,
		Status:          refundStatus(gwRefund.Status),
		GatewayRefundID: gwRefund.ID,
		RequestedAt:     requestedAt,
		ProcessedAt:     &processed,
	}
	order.Refund = &refund
	// A refund the gateway declined leaves the captured payment as it was.
	if refund.Status != domain.RefundStatusRejected {
		if amount == order.Pricing.Total {
			order.Payment.Status = domain.PaymentStatusRefunded
		} else {
			order.Payment.Status = domain.PaymentStatusPartiallyRefunded
		}
	}
	actor := domain.AdminActor(cmd.ActorID)
	if strings.TrimSpace(cmd.ActorID) == "" {
		actor = domain.ActorSystem
	}
	message := "Refund processed: " + gwRefund.ID
	if refund.Status == domain.RefundStatusRejected {
		message = "Refund rejected: " + gwRefund.ID
	}
	entry := s.lifecycle.AppendTimelineEntry(&order, domain.TimelineStatusRefunded, message, actor)

	payment := order.Payment
	patch := repositories.OrderPatch{Refund: &refund, Payment: &payment, AppendTimeline: []domain.TimelineEntry{entry}}
	if err := writeOrder(ctx, s.orders, &order, patch); err != nil {
		// Money moved at the gateway but the order does not say so; operators reconcile from this line.
		s.logger(ctx, "refund.persist.failed", map[string]any{
			"orderId":  order.ID,
			"refundId": gwRefund.ID,
			"amount":   amount,
			"error":    err.Error(),
		})
		return Order{}, err
	}
	if refund.Status == domain.RefundStatusRejected {
		s.logger(ctx, "refund.rejected", map[string]any{"orderId": order.ID, "refundId": gwRefund.ID, "amount": amount})
		return order, nil
	}
	s.logger(ctx, "refund.processed", map[string]any{"orderId": order.ID, "refundId": gwRefund.ID, "amount": amount, "status": string(refund.Status)})
	s.events.emit(ctx, OrderEventRefunded, order, order.Status, actor)
	return order, nil
}

// refundIdempotencyKey is stable while the order is unchanged, so a retry after a lost
// write replays the same gateway refund. Recording any outcome advances the revision and
// lets the next attempt reach the gateway afresh.
func refundIdempotencyKey(order Order, amount int64) string {
	return fmt.Sprintf("refund-%s-%d-%d", order.ID, order.Revision, amount)
}

func refundStatus(state payments.RefundState) domain.RefundStatus {
	switch state {
	case payments.RefundStatePending:
		return domain.RefundStatusPending
	case payments.RefundStateFailed:
		return domain.RefundStatusRejected
	default:
		return domain.RefundStatusCompleted
	}
}
