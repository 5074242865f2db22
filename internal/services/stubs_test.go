package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/memory"
)

var testNow = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// stubOrderRepo is backed by the memory store; set a func field to intercept one call.
type stubOrderRepo struct {
	*memory.OrderRepository
	updateFn  func(ctx context.Context, id string, patch repositories.OrderPatch) error
	countFn   func(ctx context.Context, query repositories.OrderQuery) (int64, error)
	insertFn  func(ctx context.Context, order domain.Order) error
	updates   int
	lastPatch repositories.OrderPatch
}

func newStubOrderRepo(t *testing.T, orders ...Order) *stubOrderRepo {
	t.Helper()
	repo := &stubOrderRepo{OrderRepository: memory.NewOrderRepository()}
	for _, order := range orders {
		if err := repo.OrderRepository.Insert(context.Background(), order); err != nil {
			t.Fatalf("seed order %s: %v", order.ID, err)
		}
	}
	return repo
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return s.OrderRepository.Insert(ctx, order)
}

func (s *stubOrderRepo) UpdateFields(ctx context.Context, id string, patch repositories.OrderPatch) error {
	s.updates++
	s.lastPatch = patch
	if s.updateFn != nil {
		return s.updateFn(ctx, id, patch)
	}
	return s.OrderRepository.UpdateFields(ctx, id, patch)
}

func (s *stubOrderRepo) Count(ctx context.Context, query repositories.OrderQuery) (int64, error) {
	if s.countFn != nil {
		return s.countFn(ctx, query)
	}
	return s.OrderRepository.Count(ctx, query)
}

func (s *stubOrderRepo) mustFind(t *testing.T, id string) Order {
	t.Helper()
	order, err := s.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	return order
}

type stubGateway struct {
	createFn func(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error)
	amendFn  func(ctx context.Context, req payments.GatewayAmendRequest) error
	refundFn func(ctx context.Context, req payments.GatewayRefundRequest) (payments.GatewayRefund, error)
	creates  []payments.GatewayOrderRequest
	amends   []payments.GatewayAmendRequest
	refunds  []payments.GatewayRefundRequest
}

func (s *stubGateway) CreateOrder(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
	s.creates = append(s.creates, req)
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return payments.GatewayOrder{ID: "pi_test", Provider: payments.ProviderStripe}, nil
}

func (s *stubGateway) AmendOrder(ctx context.Context, req payments.GatewayAmendRequest) error {
	s.amends = append(s.amends, req)
	if s.amendFn != nil {
		return s.amendFn(ctx, req)
	}
	return nil
}

func (s *stubGateway) Refund(ctx context.Context, req payments.GatewayRefundRequest) (payments.GatewayRefund, error) {
	s.refunds = append(s.refunds, req)
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return payments.GatewayRefund{ID: "re_test", Status: payments.RefundStateSucceeded}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg-1", p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type stubNotifier struct {
	notifyFn func(ctx context.Context, order Order) error
	sent     []string
}

func (s *stubNotifier) NotifyOrderConfirmed(ctx context.Context, order Order) error {
	s.sent = append(s.sent, order.ID)
	if s.notifyFn != nil {
		return s.notifyFn(ctx, order)
	}
	return nil
}

type loggedEvent struct {
	name   string
	fields map[string]any
}

type recordingLogger struct {
	mu     sync.Mutex
	events []loggedEvent
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, loggedEvent{name: event, fields: fields})
}

func (l *recordingLogger) has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, event := range l.events {
		if event.name == name {
			return true
		}
	}
	return false
}

// paidOrder returns a settled card order at the given status.
func paidOrder(id string, status domain.OrderStatus, total int64) Order {
	paidAt := testNow.Add(-48 * time.Hour)
	return Order{
		ID:          id,
		OrderNumber: "AMZ-1700000000000-000001",
		UserID:      "user-1",
		Items:       []domain.OrderItem{{ProductRef: "sku-1", Name: "Mug", Quantity: 1, UnitPrice: total, LineTotal: total}},
		Pricing:     domain.OrderPricing{Subtotal: total, Total: total, Currency: "USD"},
		Payment: domain.OrderPayment{
			Method:         domain.PaymentMethodCard,
			Status:         domain.PaymentStatusPaid,
			Provider:       payments.ProviderStripe,
			GatewayOrderID: "pi_" + id,
			TransactionID:  "ch_" + id,
			Amount:         total,
			Currency:       "USD",
			PaidAt:         &paidAt,
		},
		Status:    status,
		Timeline:  []domain.TimelineEntry{{Status: "pending", Message: "Order placed", Timestamp: testNow.Add(-72 * time.Hour), Actor: "user:user-1"}},
		CreatedAt: testNow.Add(-72 * time.Hour),
		UpdatedAt: testNow.Add(-48 * time.Hour),
	}
}

// pendingOrder returns an unpaid card order waiting for confirmation.
func pendingOrder(id string, total int64) Order {
	order := paidOrder(id, domain.OrderStatusPending, total)
	order.Payment.Status = domain.PaymentStatusPending
	order.Payment.TransactionID = ""
	order.Payment.PaidAt = nil
	return order
}

func syncDispatch(fn func()) { fn() }
