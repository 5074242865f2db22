package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/memory"
)

type orderFixture struct {
	svc      OrderService
	repo     *stubOrderRepo
	products *memory.ProductRepository
	gateway  *stubGateway
	events   *recordingPublisher
}

func newOrderFixture(t *testing.T, orders ...Order) orderFixture {
	t.Helper()
	f := orderFixture{
		repo: newStubOrderRepo(t, orders...),
		products: memory.NewProductRepository(
			domain.ProductPrice{ProductRef: "sku-mug", Name: "Mug", UnitPrice: 1250, Currency: "USD", Active: true},
			domain.ProductPrice{ProductRef: "sku-tee", Name: "Tee", UnitPrice: 2000, Currency: "USD", Active: true},
			domain.ProductPrice{ProductRef: "sku-old", Name: "Retired", UnitPrice: 900, Currency: "USD", Active: false},
			domain.ProductPrice{ProductRef: "sku-eur", Name: "Poster", UnitPrice: 1500, Currency: "EUR", Active: true},
		),
		gateway: &stubGateway{},
		events:  &recordingPublisher{},
	}
	ids := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   f.repo,
		Products: f.products,
		Gateway:  f.gateway,
		Events:   f.events,
		Pricing:  PricingPolicy{DefaultCurrency: "usd", TaxRateBasisPoints: 800, ShippingFee: 500, FreeShippingThreshold: 5000},
		Clock:    fixedClock,
		IDGenerator: func() string {
			ids++
			return "ord_test" + string(rune('0'+ids))
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func testAddress() *Address {
	return &Address{Recipient: "Ada Lovelace", Line1: "1 Main St", City: "Springfield", PostalCode: "90000", Country: "us"}
}

func TestCreateOrderPricesAndPersists(t *testing.T) {
	f := newOrderFixture(t)
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		Items:           []CreateOrderItem{{ProductRef: "sku-mug", Quantity: 2}, {ProductRef: "sku-mug", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCard,
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 3 || order.Items[0].LineTotal != 3750 {
		t.Fatalf("expected merged line, got %+v", order.Items)
	}
	// 3750 * 8% = 300 tax; below the free shipping threshold so 500 shipping.
	if p := order.Pricing; p.Subtotal != 3750 || p.Tax != 300 || p.Shipping != 500 || p.Total != 4550 || p.Currency != "USD" {
		t.Fatalf("unexpected pricing %+v", p)
	}
	if !orderNumberPattern.MatchString(order.OrderNumber) {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Payment.GatewayOrderID != "pi_test" || order.Payment.Status != domain.PaymentStatusPending || order.Payment.Amount != 4550 {
		t.Fatalf("unexpected payment %+v", order.Payment)
	}
	if len(f.gateway.creates) != 1 || f.gateway.creates[0].Receipt != order.OrderNumber || f.gateway.creates[0].OrderID != order.ID || f.gateway.creates[0].Amount != 4550 {
		t.Fatalf("unexpected gateway calls %+v", f.gateway.creates)
	}
	if len(order.Timeline) != 1 || order.Timeline[0].Status != "pending" {
		t.Fatalf("expected initial pending entry, got %+v", order.Timeline)
	}
	if order.ShippingAddress.Country != "US" {
		t.Fatalf("expected normalised country, got %q", order.ShippingAddress.Country)
	}
	if _, err := f.repo.FindByID(context.Background(), order.ID); err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if types := f.events.types(); len(types) != 1 || types[0] != OrderEventCreated {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCreateOrderFreeShippingAndRounding(t *testing.T) {
	f := newOrderFixture(t)
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		Items:           []CreateOrderItem{{ProductRef: "sku-tee", Quantity: 3}, {ProductRef: "sku-mug", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	// 7250 * 8% = 580; at or above 5000 ships free.
	if p := order.Pricing; p.Tax != 580 || p.Shipping != 0 || p.Total != 7830 {
		t.Fatalf("unexpected pricing %+v", p)
	}
	if len(f.gateway.creates) != 0 {
		t.Fatalf("cash on delivery must not call the gateway")
	}
	if order.Payment.Provider != payments.ProviderOffline {
		t.Fatalf("expected offline provider, got %q", order.Payment.Provider)
	}
}

func TestCreateOrderValidatesBeforeSideEffects(t *testing.T) {
	cases := map[string]CreateOrderCommand{
		"no items":       {UserID: "user-1", PaymentMethod: domain.PaymentMethodCard, ShippingAddress: testAddress()},
		"zero quantity":  {UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-mug"}}, PaymentMethod: domain.PaymentMethodCard, ShippingAddress: testAddress()},
		"bad method":     {UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-mug", Quantity: 1}}, PaymentMethod: "barter", ShippingAddress: testAddress()},
		"bad currency":   {UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-mug", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard, Currency: "ZZZ", ShippingAddress: testAddress()},
		"no address":     {UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-mug", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard},
		"unknown sku":    {UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-none", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard, ShippingAddress: testAddress()},
		"inactive sku":   {UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-old", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard, ShippingAddress: testAddress()},
		"currency clash": {UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-eur", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard, ShippingAddress: testAddress()},
		"anonymous":      {Items: []CreateOrderItem{{ProductRef: "sku-mug", Quantity: 1}}, PaymentMethod: domain.PaymentMethodCard, ShippingAddress: testAddress()},
	}
	for name, cmd := range cases {
		f := newOrderFixture(t)
		if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
		if len(f.gateway.creates) != 0 {
			t.Fatalf("%s: gateway called before validation finished", name)
		}
	}
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	f := newOrderFixture(t)
	f.gateway.createFn = func(context.Context, payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
		return payments.GatewayOrder{}, payments.ErrUnavailable
	}
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: "user-1", Items: []CreateOrderItem{{ProductRef: "sku-mug", Quantity: 1}},
		PaymentMethod: domain.PaymentMethodCard, ShippingAddress: testAddress(),
	})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	if count, _ := f.repo.Count(context.Background(), repositories.OrderQuery{}); count != 0 {
		t.Fatalf("expected nothing persisted, got %d orders", count)
	}
}

func TestGetOrderScopesToOwner(t *testing.T) {
	f := newOrderFixture(t, paidOrder("ord_1", domain.OrderStatusConfirmed, 100))
	if _, err := f.svc.GetOrder(context.Background(), "ord_1", OrderReadOptions{UserID: "user-1"}); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "ord_1", OrderReadOptions{UserID: "user-2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "ord_1", OrderReadOptions{}); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "ord_missing", OrderReadOptions{}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelOrderRules(t *testing.T) {
	f := newOrderFixture(t,
		pendingOrder("ord_pending", 100),
		paidOrder("ord_processing", domain.OrderStatusProcessing, 100),
		paidOrder("ord_shipped", domain.OrderStatusShipped, 100),
	)
	ctx := context.Background()

	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_pending", ActorID: "user-2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected stranger cancel to be hidden, got %v", err)
	}
	got, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_pending", ActorID: "user-1", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("customer cancel: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled || got.CancelReason == nil || *got.CancelReason != "changed my mind" {
		t.Fatalf("unexpected cancelled order %+v", got)
	}
	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_processing", ActorID: "user-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("customer must not cancel processing order, got %v", err)
	}
	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_processing", ActorID: "ops", IsAdmin: true}); err != nil {
		t.Fatalf("admin cancel processing: %v", err)
	}
	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_shipped", ActorID: "ops", IsAdmin: true}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("shipped orders cannot be cancelled, got %v", err)
	}
}

func TestTransitionStatusStrictAndOverride(t *testing.T) {
	f := newOrderFixture(t, paidOrder("ord_1", domain.OrderStatusConfirmed, 100))
	ctx := context.Background()

	if _, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusShipped, ActorID: "ops"}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	got, err := f.svc.TransitionStatus(ctx, OrderStatusCommand{OrderID: "ord_1", Status: "Processing", ActorID: "ops"})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
	got, err = f.svc.OverrideStatus(ctx, OrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusDelivered, Message: "carrier lost scans", ActorID: "ops"})
	if err != nil {
		t.Fatalf("OverrideStatus: %v", err)
	}
	last, _ := got.LastTimelineEntry()
	if got.Status != domain.OrderStatusDelivered || last.Message != "override: carrier lost scans" || last.Actor != "admin:ops" {
		t.Fatalf("unexpected override result %s %+v", got.Status, last)
	}
	if len(f.events.types()) != 2 {
		t.Fatalf("expected two status events, got %v", f.events.types())
	}
}

func TestTransitionStatusRequiresCaptureForOnlinePayments(t *testing.T) {
	f := newOrderFixture(t, pendingOrder("ord_1", 100))
	_, err := f.svc.TransitionStatus(context.Background(), OrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusConfirmed})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestCashOnDeliveryIsPaidOnDelivery(t *testing.T) {
	order := paidOrder("ord_cod", domain.OrderStatusShipped, 100)
	order.Payment = domain.OrderPayment{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending, Provider: payments.ProviderOffline, Amount: 100, Currency: "USD"}
	f := newOrderFixture(t, order)

	got, err := f.svc.TransitionStatus(context.Background(), OrderStatusCommand{OrderID: "ord_cod", Status: domain.OrderStatusDelivered, ActorID: "courier"})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if got.Payment.Status != domain.PaymentStatusPaid || got.Payment.PaidAt == nil {
		t.Fatalf("expected cod payment settled, got %+v", got.Payment)
	}
	if stored := f.repo.mustFind(t, "ord_cod"); stored.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected stored payment paid, got %s", stored.Payment.Status)
	}
}

func TestApplyEditsWritesOnlyEditedFields(t *testing.T) {
	f := newOrderFixture(t, paidOrder("ord_1", domain.OrderStatusShipped, 100))
	got, err := f.svc.ApplyEdits(context.Background(), EditOrderCommand{
		OrderID: "ord_1",
		ActorID: "ops",
		Edits: []OrderEdit{
			TrackingEdit{Carrier: "UPS", TrackingNumber: "1Z999"},
			NotesEdit{Notes: "leave at <script>x</script>door"},
		},
	})
	if err != nil {
		t.Fatalf("ApplyEdits: %v", err)
	}
	patch := f.repo.lastPatch
	if patch.Tracking == nil || patch.Notes == nil || patch.Pricing != nil || patch.Status != nil || patch.ShippingAddress != nil {
		t.Fatalf("unexpected patch fields %+v", patch)
	}
	if got.Tracking.TrackingNumber != "1Z999" || strings.Contains(got.Notes, "<") {
		t.Fatalf("unexpected edited order tracking=%+v notes=%q", got.Tracking, got.Notes)
	}
	if len(patch.AppendTimeline) != 1 || patch.AppendTimeline[0].Status != "shipped" {
		t.Fatalf("expected one audit entry, got %+v", patch.AppendTimeline)
	}
}

func TestApplyEditsPricingOnlyWhilePending(t *testing.T) {
	pending := pendingOrder("ord_pending", 1000)
	f := newOrderFixture(t, pending, paidOrder("ord_paid", domain.OrderStatusConfirmed, 1000))
	ctx := context.Background()

	got, err := f.svc.ApplyEdits(ctx, EditOrderCommand{OrderID: "ord_pending", Edits: []OrderEdit{PricingAdjustmentEdit{Discount: int64Ptr(200), Shipping: int64Ptr(50)}}})
	if err != nil {
		t.Fatalf("ApplyEdits: %v", err)
	}
	if got.Pricing.Total != 850 || got.Payment.Amount != 850 {
		t.Fatalf("expected recomputed total 850, got %+v", got.Pricing)
	}
	if _, err := f.svc.ApplyEdits(ctx, EditOrderCommand{OrderID: "ord_paid", Edits: []OrderEdit{PricingAdjustmentEdit{Tax: int64Ptr(1)}}}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for paid order, got %v", err)
	}
	if _, err := f.svc.ApplyEdits(ctx, EditOrderCommand{OrderID: "ord_pending", Edits: []OrderEdit{PricingAdjustmentEdit{Discount: int64Ptr(5000)}}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected a non-positive total to be rejected, got %v", err)
	}
}

func TestApplyEditsPricingAmendsGatewayOrderForLaterCapture(t *testing.T) {
	f := newOrderFixture(t, pendingOrder("ord_pending", 1000))
	ctx := context.Background()

	got, err := f.svc.ApplyEdits(ctx, EditOrderCommand{OrderID: "ord_pending", Edits: []OrderEdit{PricingAdjustmentEdit{Discount: int64Ptr(200), Shipping: int64Ptr(50)}}})
	if err != nil {
		t.Fatalf("ApplyEdits: %v", err)
	}
	if len(f.gateway.amends) != 1 {
		t.Fatalf("expected one gateway amend, got %d", len(f.gateway.amends))
	}
	if amend := f.gateway.amends[0]; amend.GatewayOrderID != "pi_ord_pending" || amend.Amount != 850 || amend.Currency != "USD" || amend.Method != domain.PaymentMethodCard {
		t.Fatalf("unexpected amend %+v", amend)
	}

	// The customer now pays the amended amount; the capture must still settle the order.
	paymentSvc := newTestPaymentService(t, f.repo, nil, nil, nil)
	result, err := paymentSvc.ApplyWebhook(ctx, capturedWebhook(t, "ch_amended", got.Payment.GatewayOrderID, 850))
	if err != nil {
		t.Fatalf("ApplyWebhook: %v", err)
	}
	stored := f.repo.mustFind(t, "ord_pending")
	if !result.Applied || stored.Status != domain.OrderStatusConfirmed || stored.Payment.TransactionID != "ch_amended" {
		t.Fatalf("expected capture of amended amount applied, result=%+v order=%s/%s", result, stored.Status, stored.Payment.TransactionID)
	}
}

func TestApplyEditsGatewayAmendFailureWritesNothing(t *testing.T) {
	f := newOrderFixture(t, pendingOrder("ord_pending", 1000))
	f.gateway.amendFn = func(context.Context, payments.GatewayAmendRequest) error {
		return errors.New("intent already succeeded")
	}

	_, err := f.svc.ApplyEdits(context.Background(), EditOrderCommand{OrderID: "ord_pending", Edits: []OrderEdit{PricingAdjustmentEdit{Discount: int64Ptr(100)}}})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	if f.repo.updates != 0 {
		t.Fatalf("expected no write after failed amend, got %d", f.repo.updates)
	}
	if stored := f.repo.mustFind(t, "ord_pending"); stored.Pricing.Total != 1000 {
		t.Fatalf("expected stored total unchanged, got %d", stored.Pricing.Total)
	}
}

func TestApplyEditsWithoutPricingChangeSkipsGateway(t *testing.T) {
	f := newOrderFixture(t, pendingOrder("ord_pending", 1000))
	if _, err := f.svc.ApplyEdits(context.Background(), EditOrderCommand{OrderID: "ord_pending", Edits: []OrderEdit{NotesEdit{Notes: "gift wrap"}}}); err != nil {
		t.Fatalf("ApplyEdits: %v", err)
	}
	if len(f.gateway.amends) != 0 {
		t.Fatalf("expected no gateway amend, got %+v", f.gateway.amends)
	}
}

func TestApplyEditsRejectsDuplicatesAndBadAddress(t *testing.T) {
	f := newOrderFixture(t, pendingOrder("ord_1", 100))
	ctx := context.Background()
	dup := []OrderEdit{NotesEdit{Notes: "a"}, NotesEdit{Notes: "b"}}
	if _, err := f.svc.ApplyEdits(ctx, EditOrderCommand{OrderID: "ord_1", Edits: dup}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected duplicate edit rejection, got %v", err)
	}
	bad := []OrderEdit{ShippingAddressEdit{Address: Address{Recipient: "Ada", Country: "US"}}}
	if _, err := f.svc.ApplyEdits(ctx, EditOrderCommand{OrderID: "ord_1", Edits: bad}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected address validation, got %v", err)
	}
	if f.repo.updates != 0 {
		t.Fatalf("rejected edits must not write, got %d", f.repo.updates)
	}
}

func TestListOrdersAndStats(t *testing.T) {
	refunded := paidOrder("ord_3", domain.OrderStatusDelivered, 300)
	refunded.Payment.Status = domain.PaymentStatusRefunded
	refunded.Refund = &domain.OrderRefund{Amount: 300, Status: domain.RefundStatusCompleted}
	other := paidOrder("ord_2", domain.OrderStatusConfirmed, 200)
	other.UserID = "user-2"
	f := newOrderFixture(t, paidOrder("ord_1", domain.OrderStatusConfirmed, 100), other, refunded, pendingOrder("ord_4", 50))
	ctx := context.Background()

	page, err := f.svc.ListOrders(ctx, OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	for _, order := range page.Items {
		if order.UserID != "user-1" {
			t.Fatalf("list leaked order %s of %s", order.ID, order.UserID)
		}
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 orders for user-1, got %d", len(page.Items))
	}

	stats, err := f.svc.Stats(ctx, OrderStatsQuery{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalOrders != 4 || stats.ByStatus[domain.OrderStatusConfirmed] != 2 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.PaidRevenue != 600 || stats.RefundedAmount != 300 {
		t.Fatalf("unexpected revenue %+v", stats)
	}
	if !stats.GeneratedAt.Equal(testNow) {
		t.Fatalf("unexpected generatedAt %s", stats.GeneratedAt)
	}
}

func TestDeleteOrder(t *testing.T) {
	f := newOrderFixture(t, pendingOrder("ord_1", 100))
	if err := f.svc.DeleteOrder(context.Background(), "ord_1"); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if err := f.svc.DeleteOrder(context.Background(), "ord_1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if types := f.events.types(); len(types) != 1 || types[0] != OrderEventDeleted {
		t.Fatalf("unexpected events %v", types)
	}
}
