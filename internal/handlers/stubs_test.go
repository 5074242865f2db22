package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, string, services.OrderReadOptions) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	transitionFn func(context.Context, services.OrderStatusCommand) (services.Order, error)
	overrideFn   func(context.Context, services.OrderStatusCommand) (services.Order, error)
	editFn       func(context.Context, services.EditOrderCommand) (services.Order, error)
	deleteFn     func(context.Context, string) error
	statsFn      func(context.Context, services.OrderStatsQuery) (services.OrderStats, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, id string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{ID: id}, nil
	}
	return s.getFn(ctx, id, opts)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{ID: cmd.OrderID}, nil
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{ID: cmd.OrderID, Status: cmd.Status}, nil
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) OverrideStatus(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
	if s.overrideFn == nil {
		return services.Order{ID: cmd.OrderID, Status: cmd.Status}, nil
	}
	return s.overrideFn(ctx, cmd)
}

func (s *stubOrderService) ApplyEdits(ctx context.Context, cmd services.EditOrderCommand) (services.Order, error) {
	if s.editFn == nil {
		return services.Order{ID: cmd.OrderID}, nil
	}
	return s.editFn(ctx, cmd)
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, id string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, id)
}

func (s *stubOrderService) Stats(ctx context.Context, query services.OrderStatsQuery) (services.OrderStats, error) {
	if s.statsFn == nil {
		return services.OrderStats{}, nil
	}
	return s.statsFn(ctx, query)
}

type stubPaymentService struct {
	confirmFn func(context.Context, services.ConfirmPaymentCommand) (services.Order, error)
	webhookFn func(context.Context, services.WebhookCommand) (services.WebhookResult, error)
}

func (s *stubPaymentService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
	return s.confirmFn(ctx, cmd)
}

func (s *stubPaymentService) ApplyWebhook(ctx context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
	return s.webhookFn(ctx, cmd)
}

type stubRefundService struct {
	refundFn func(context.Context, services.CreateRefundCommand) (services.Order, error)
}

func (s *stubRefundService) CreateRefund(ctx context.Context, cmd services.CreateRefundCommand) (services.Order, error) {
	return s.refundFn(ctx, cmd)
}

type stubFXService struct {
	ratesFn func(context.Context, string) (services.FXRatesView, error)
}

func (s *stubFXService) Rates(ctx context.Context, base string) (services.FXRatesView, error) {
	return s.ratesFn(ctx, base)
}

var (
	_ services.SystemService  = (*stubSystemService)(nil)
	_ services.OrderService   = (*stubOrderService)(nil)
	_ services.PaymentService = (*stubPaymentService)(nil)
	_ services.RefundService  = (*stubRefundService)(nil)
	_ services.FXService      = (*stubFXService)(nil)
)

func sampleOrder(id string) services.Order {
	return services.Order{
		ID:          id,
		OrderNumber: "AMZ-1741944600000-000001",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
		Items:       []domain.OrderItem{{ProductRef: "sku-mug", Name: "Mug", Quantity: 2, UnitPrice: 1250, LineTotal: 2500}},
		Pricing:     domain.OrderPricing{Subtotal: 2500, Tax: 200, Shipping: 500, Total: 3200, Currency: "USD"},
		Payment:     domain.OrderPayment{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPending, Amount: 3200, Currency: "USD"},
		Timeline:    []domain.TimelineEntry{{Status: "pending", Message: "Order placed", Timestamp: testNow, Actor: "user:user-1"}},
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
}

// withIdentity attaches the principal to req. Handlers are mounted without an
// authenticator, so the identity is injected the way the auth middleware would.
func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]any](t, rr)["error"].(string)
}
