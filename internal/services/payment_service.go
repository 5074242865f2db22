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
	"github.com/storefront/api/internal/repositories"
)

const (
	defaultNotifyTimeout = 10 * time.Second
	webhookActor         = "webhook"
	// maxWriteAttempts bounds re-reads after losing a write race.
	maxWriteAttempts = 3
)

// PaymentServiceDeps bundles constructor inputs for payment reconciliation.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	Notifier      OrderNotifier
	Events        OrderEventPublisher
	KeySecret     string
	WebhookSecret string
	NotifyTimeout time.Duration
	// Dispatch runs background work; nil starts a goroutine.
	Dispatch func(func())
	Clock    func() time.Time
	Logger   Logger
}

type paymentService struct {
	orders        repositories.OrderRepository
	notifier      OrderNotifier
	events        eventSink
	keySecret     string
	webhookSecret string
	notifyTimeout time.Duration
	dispatch      func(func())
	lifecycle     Lifecycle
	clock         func() time.Time
	logger        Logger
}

// NewPaymentService constructs the payment reconciliation service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if strings.TrimSpace(deps.KeySecret) == "" || strings.TrimSpace(deps.WebhookSecret) == "" {
		return nil, errors.New("payment service: gateway secrets are required")
	}
	clock := utcClock(deps.Clock)
	logger := deps.Logger.or()
	timeout := deps.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	dispatch := deps.Dispatch
	if dispatch == nil {
		dispatch = func(fn func()) { go fn() }
	}
	return &paymentService{
		orders:        deps.Orders,
		notifier:      deps.Notifier,
		events:        eventSink{publisher: deps.Events, logger: logger, clock: clock},
		keySecret:     deps.KeySecret,
		webhookSecret: deps.WebhookSecret,
		notifyTimeout: timeout,
		dispatch:      dispatch,
		lifecycle:     NewLifecycle(clock),
		clock:         clock,
		logger:        logger,
	}, nil
}

func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (order Order, err error) {
	ctx, span := observability.StartSpan(ctx, "payments.confirm", attribute.String("order.id", cmd.OrderID))
	defer func() { observability.EndSpan(span, err) }()

	cmd.OrderID = strings.TrimSpace(cmd.OrderID)
	cmd.GatewayOrderID = strings.TrimSpace(cmd.GatewayOrderID)
	cmd.GatewayPaymentID = strings.TrimSpace(cmd.GatewayPaymentID)
	cmd.Signature = strings.TrimSpace(cmd.Signature)
	if cmd.OrderID == "" || cmd.GatewayOrderID == "" || cmd.GatewayPaymentID == "" || cmd.Signature == "" || strings.TrimSpace(cmd.UserID) == "" {
		return Order{}, fmt.Errorf("%w: order, gateway order, payment and signature are required", ErrOrderInvalidInput)
	}
	payload := payments.ConfirmationPayload(cmd.GatewayOrderID, cmd.GatewayPaymentID)
	if !payments.VerifySignature(s.keySecret, payload, cmd.Signature) {
		s.logger(ctx, "payment.confirm.signature.failed", map[string]any{"orderId": cmd.OrderID})
		return Order{}, ErrInvalidSignature
	}

	for attempt := 1; ; attempt++ {
		order, err = s.confirm(ctx, cmd)
		if !errors.Is(err, errConcurrentUpdate) || attempt == maxWriteAttempts {
			return order, err
		}
		s.logger(ctx, "payment.confirm.retry", map[string]any{"orderId": cmd.OrderID, "attempt": attempt})
	}
}

// confirm runs one read-check-write pass over the order. A webhook that captured the
// same payment first leaves nothing to do.
func (s *paymentService) confirm(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	order, err := loadOrder(ctx, s.orders, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.UserID != strings.TrimSpace(cmd.UserID) || order.Payment.GatewayOrderID != cmd.GatewayOrderID {
		return Order{}, ErrOrderNotFound
	}
	if order.Payment.Status.Settled() {
		if order.Payment.TransactionID == cmd.GatewayPaymentID {
			return order, nil
		}
		return Order{}, fmt.Errorf("%w: order already paid by another transaction", ErrOrderConflict)
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: cannot confirm payment for a %s order", ErrOrderInvalidState, order.Status)
	}

	previous := order.Status
	actor := domain.UserActor(cmd.UserID)
	s.markPaid(&order, cmd.GatewayPaymentID)
	entry, err := s.lifecycle.TransitionStatus(&order, domain.OrderStatusConfirmed, "Payment confirmed successfully", actor)
	if err != nil {
		return Order{}, err
	}
	status := order.Status
	payment := order.Payment
	patch := repositories.OrderPatch{Status: &status, Payment: &payment, AppendTimeline: []domain.TimelineEntry{entry}}
	if err := writeOrder(ctx, s.orders, &order, patch); err != nil {
		if !errors.Is(err, errConcurrentUpdate) {
			s.logger(ctx, "payment.confirm.persist.failed", map[string]any{
				"orderId":       order.ID,
				"transactionId": cmd.GatewayPaymentID,
				"error":         err.Error(),
			})
		}
		return Order{}, err
	}

	s.logger(ctx, "payment.confirmed", map[string]any{"orderId": order.ID, "transactionId": cmd.GatewayPaymentID})
	s.events.emit(ctx, OrderEventPaymentPaid, order, previous, actor)
	s.sendConfirmation(ctx, order)
	return order, nil
}

func (s *paymentService) ApplyWebhook(ctx context.Context, cmd WebhookCommand) (result WebhookResult, err error) {
	ctx, span := observability.StartSpan(ctx, "payments.webhook")
	defer func() { observability.EndSpan(span, err) }()

	if !payments.VerifySignature(s.webhookSecret, cmd.Body, strings.TrimSpace(cmd.Signature)) {
		s.logger(ctx, "payment.webhook.signature.failed", nil)
		return WebhookResult{}, ErrInvalidSignature
	}
	event, err := payments.ParseWebhookEvent(cmd.Body)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	result = WebhookResult{Received: true, Event: event.Event}
	span.SetAttributes(attribute.String("webhook.event", event.Event))
	if event.Event != payments.EventPaymentCaptured {
		return result, nil
	}

	for attempt := 1; ; attempt++ {
		result.Applied, err = s.capture(ctx, event)
		if !errors.Is(err, errConcurrentUpdate) || attempt == maxWriteAttempts {
			break
		}
		s.logger(ctx, "payment.webhook.retry", map[string]any{"transactionId": event.Payment.ID, "attempt": attempt})
	}
	if err != nil {
		return WebhookResult{}, err
	}
	return result, nil
}

// capture applies a payment.captured event in one read-check-write pass and reports
// whether it changed the order.
func (s *paymentService) capture(ctx context.Context, event payments.WebhookEvent) (bool, error) {
	txnID := event.Payment.ID
	order, err := s.orders.FindOne(ctx, repositories.OrderQuery{TransactionID: txnID})
	if err != nil && event.Payment.OrderID != "" && errors.Is(mapRepositoryError(err), ErrOrderNotFound) {
		// The client never confirmed; match on the gateway order instead.
		order, err = s.orders.FindOne(ctx, repositories.OrderQuery{GatewayOrderID: event.Payment.OrderID})
	}
	if err != nil {
		mapped := mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderNotFound) {
			s.logger(ctx, "payment.webhook.unmatched.skipped", map[string]any{"transactionId": txnID})
			return false, nil
		}
		return false, mapped
	}
	if event.Payment.Amount != nil && *event.Payment.Amount != order.Payment.Amount {
		s.logger(ctx, "payment.webhook.amount_mismatch.skipped", map[string]any{
			"orderId":       order.ID,
			"transactionId": txnID,
			"expected":      order.Payment.Amount,
			"received":      *event.Payment.Amount,
		})
		return false, nil
	}
	if order.Payment.Status.Settled() && order.Status != domain.OrderStatusPending {
		return false, nil
	}

	previous := order.Status
	actor := domain.GatewayActor(webhookActor)
	patch := repositories.OrderPatch{}
	if !order.Payment.Status.Settled() {
		s.markPaid(&order, txnID)
		payment := order.Payment
		patch.Payment = &payment
	}
	if order.Status == domain.OrderStatusPending {
		entry, err := s.lifecycle.TransitionStatus(&order, domain.OrderStatusConfirmed, "Payment captured by gateway", actor)
		if err != nil {
			return false, err
		}
		status := order.Status
		patch.Status = &status
		patch.AppendTimeline = []domain.TimelineEntry{entry}
	}
	if patch.IsEmpty() {
		return false, nil
	}
	if err := writeOrder(ctx, s.orders, &order, patch); err != nil {
		if !errors.Is(err, errConcurrentUpdate) {
			s.logger(ctx, "payment.webhook.persist.failed", map[string]any{"orderId": order.ID, "transactionId": txnID, "error": err.Error()})
		}
		return false, err
	}
	s.logger(ctx, "payment.webhook.applied", map[string]any{"orderId": order.ID, "transactionId": txnID})
	s.events.emit(ctx, OrderEventPaymentPaid, order, previous, actor)
	if previous == domain.OrderStatusPending {
		s.sendConfirmation(ctx, order)
	}
	return true, nil
}

func (s *paymentService) markPaid(order *Order, transactionID string) {
	paidAt := s.clock()
	order.Payment.Status = domain.PaymentStatusPaid
	order.Payment.TransactionID = transactionID
	order.Payment.PaidAt = &paidAt
}

// sendConfirmation notifies the customer without holding up the request. The work
// outlives the request context but is bounded by notifyTimeout.
func (s *paymentService) sendConfirmation(ctx context.Context, order Order) {
	if s.notifier == nil {
		return
	}
	snapshot := order.Clone()
	detached := context.WithoutCancel(ctx)
	s.dispatch(func() {
		notifyCtx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyOrderConfirmed(notifyCtx, snapshot); err != nil {
			s.logger(notifyCtx, "order.notification.failed", map[string]any{"orderId": snapshot.ID, "error": err.Error()})
		}
	})
}
