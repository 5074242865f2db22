package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"

	"github.com/storefront/api/internal/domain"
)

type stubIntents struct {
	newFn    func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	updateFn func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s stubIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.newFn(params)
}

func (s stubIntents) Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.updateFn(id, params)
}

type stubRefunds struct {
	newFn func(*stripe.RefundParams) (*stripe.Refund, error)
}

func (s stubRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	return s.newFn(params)
}

func newTestStripeProvider(t *testing.T, intents stubIntents, refunds stubRefunds) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{Clients: &stripeClients{intents: intents, refunds: refunds}})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestStripeProviderCreateOrder(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	provider := newTestStripeProvider(t, stubIntents{newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		captured = params
		return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "secret_abc", Amount: 3200, Currency: "usd"}, nil
	}}, stubRefunds{})

	order, err := provider.CreateOrder(context.Background(), GatewayOrderRequest{
		OrderID:  "ord_1",
		Amount:   3200,
		Currency: "USD",
		Receipt:  "AMZ-1-000001",
		Method:   domain.PaymentMethodCard,
		Metadata: map[string]string{" orderId ": "ord_1"},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "pi_123" || order.ClientSecret != "secret_abc" {
		t.Fatalf("unexpected order %#v", order)
	}
	if captured == nil || *captured.Amount != 3200 || *captured.Currency != "usd" {
		t.Fatalf("unexpected params %#v", captured)
	}
	if captured.IdempotencyKey == nil || *captured.IdempotencyKey != "order-ord_1-AMZ-1-000001" {
		t.Fatalf("expected idempotency key from order id and receipt")
	}
	if captured.Metadata["orderId"] != "ord_1" || captured.Metadata["receipt"] != "AMZ-1-000001" {
		t.Fatalf("unexpected metadata %v", captured.Metadata)
	}
	if len(captured.PaymentMethodTypes) != 1 || *captured.PaymentMethodTypes[0] != "card" {
		t.Fatalf("expected card payment method type")
	}
}

func TestStripeProviderCreateOrderKeysSharedReceiptsApart(t *testing.T) {
	var keys []string
	provider := newTestStripeProvider(t, stubIntents{newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		keys = append(keys, *params.IdempotencyKey)
		return &stripe.PaymentIntent{ID: "pi_" + params.Metadata["orderId"]}, nil
	}}, stubRefunds{})

	for _, id := range []string{"ord_a", "ord_b"} {
		_, err := provider.CreateOrder(context.Background(), GatewayOrderRequest{
			OrderID:  id,
			Amount:   1000,
			Currency: "USD",
			Receipt:  "AMZ-1700000000000-000007",
			Metadata: map[string]string{"orderId": id},
		})
		if err != nil {
			t.Fatalf("CreateOrder(%s): %v", id, err)
		}
	}
	if len(keys) != 2 || keys[0] == keys[1] {
		t.Fatalf("expected distinct idempotency keys for one receipt, got %v", keys)
	}
}

func TestStripeProviderAmendOrder(t *testing.T) {
	var gotID string
	var captured *stripe.PaymentIntentParams
	provider := newTestStripeProvider(t, stubIntents{updateFn: func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		gotID, captured = id, params
		return &stripe.PaymentIntent{ID: id, Amount: *params.Amount}, nil
	}}, stubRefunds{})

	err := provider.AmendOrder(context.Background(), GatewayAmendRequest{GatewayOrderID: "pi_5", Amount: 2750, Currency: "USD"})
	if err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if gotID != "pi_5" || *captured.Amount != 2750 || *captured.Currency != "usd" {
		t.Fatalf("unexpected update %s %#v", gotID, captured)
	}
	if captured.IdempotencyKey == nil || *captured.IdempotencyKey != "amend-pi_5-2750" {
		t.Fatalf("expected amount scoped idempotency key")
	}

	provider = newTestStripeProvider(t, stubIntents{updateFn: func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return nil, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "intent already succeeded"}
	}}, stubRefunds{})
	if err := provider.AmendOrder(context.Background(), GatewayAmendRequest{GatewayOrderID: "pi_5", Amount: 2750}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := provider.AmendOrder(context.Background(), GatewayAmendRequest{Amount: 2750}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without an intent, got %v", err)
	}
}

func TestStripeProviderCreateOrderRejectsInvalidAmount(t *testing.T) {
	provider := newTestStripeProvider(t, stubIntents{newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		t.Fatal("stripe should not be called")
		return nil, nil
	}}, stubRefunds{})
	if _, err := provider.CreateOrder(context.Background(), GatewayOrderRequest{Currency: "USD"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStripeProviderRefundTargetsChargeOrIntent(t *testing.T) {
	var captured []*stripe.RefundParams
	provider := newTestStripeProvider(t, stubIntents{}, stubRefunds{newFn: func(params *stripe.RefundParams) (*stripe.Refund, error) {
		captured = append(captured, params)
		return &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded}, nil
	}})

	refund, err := provider.Refund(context.Background(), GatewayRefundRequest{TransactionID: "ch_1", Amount: 50, Reason: "requested_by_customer"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refund.Status != RefundStateSucceeded || refund.ID != "re_1" {
		t.Fatalf("unexpected refund %#v", refund)
	}
	if _, err := provider.Refund(context.Background(), GatewayRefundRequest{TransactionID: "pi_9", Amount: 50, Reason: "<b>damaged</b> box"}); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	if captured[0].Charge == nil || *captured[0].Charge != "ch_1" || captured[0].Reason == nil {
		t.Fatalf("expected charge refund with stripe reason, got %#v", captured[0])
	}
	if captured[1].PaymentIntent == nil || *captured[1].PaymentIntent != "pi_9" || captured[1].Reason != nil {
		t.Fatalf("expected payment intent refund without stripe reason, got %#v", captured[1])
	}
	if captured[1].Metadata["reason"] != "damaged box" {
		t.Fatalf("expected sanitised reason metadata, got %q", captured[1].Metadata["reason"])
	}
}

func TestStripeProviderClassifiesInvalidRequests(t *testing.T) {
	provider := newTestStripeProvider(t, stubIntents{}, stubRefunds{newFn: func(*stripe.RefundParams) (*stripe.Refund, error) {
		return nil, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "charge already refunded"}
	}})
	_, err := provider.Refund(context.Background(), GatewayRefundRequest{TransactionID: "pi_1", Amount: 10})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	provider = newTestStripeProvider(t, stubIntents{}, stubRefunds{newFn: func(*stripe.RefundParams) (*stripe.Refund, error) {
		return nil, &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "internal"}
	}})
	_, err = provider.Refund(context.Background(), GatewayRefundRequest{TransactionID: "pi_1", Amount: 10})
	if err == nil || errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestStripeRefundStateMapping(t *testing.T) {
	cases := map[stripe.RefundStatus]RefundState{
		stripe.RefundStatusSucceeded: RefundStateSucceeded,
		stripe.RefundStatusPending:   RefundStatePending,
		stripe.RefundStatusFailed:    RefundStateFailed,
		stripe.RefundStatusCanceled:  RefundStateFailed,
	}
	for input, want := range cases {
		if got := stripeRefundState(input); got != want {
			t.Fatalf("stripeRefundState(%s) = %s, want %s", input, got, want)
		}
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
