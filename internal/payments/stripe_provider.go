package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/textutil"
)

// StripeLogger receives provider diagnostics.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeProvider opens PaymentIntents as gateway orders and refunds them through the Refunds API.
type StripeProvider struct {
	api     stripeClients
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs the provider from an API key, or from injected clients in tests.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents, refunds: sc.Refunds}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{api: clients, account: strings.TrimSpace(cfg.AccountID), logger: logger}, nil
}

// CreateOrder creates a PaymentIntent keyed on the order id so a retried call never opens a
// second intent for the same order. Two checkouts in one millisecond can share a receipt
// when the sequence falls back to random, so the receipt alone is not a safe key.
func (p *StripeProvider) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 || strings.TrimSpace(req.Currency) == "" {
		return GatewayOrder{}, fmt.Errorf("%w: amount and currency are required", ErrInvalidRequest)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	receipt := strings.TrimSpace(req.Receipt)
	if receipt != "" {
		params.Description = stripe.String("Order " + receipt)
		params.AddMetadata("receipt", receipt)
	}
	if orderID := strings.TrimSpace(req.OrderID); orderID != "" {
		params.SetIdempotencyKey("order-" + orderID + "-" + receipt)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	for key, value := range textutil.Metadata(req.Metadata) {
		params.AddMetadata(key, value)
	}
	switch req.Method {
	case domain.PaymentMethodCard:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	case domain.PaymentMethodPayPal:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"paypal"})
	default:
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{Enabled: stripe.Bool(true)}
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return GatewayOrder{}, classifyStripeError("create payment intent", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      string(intent.Currency),
	})
	return GatewayOrder{ID: intent.ID, Provider: ProviderStripe, ClientSecret: intent.ClientSecret}, nil
}

// AmendOrder updates the PaymentIntent amount. Stripe refuses once the intent has been
// paid, which surfaces as ErrInvalidRequest.
func (p *StripeProvider) AmendOrder(ctx context.Context, req GatewayAmendRequest) error {
	id := strings.TrimSpace(req.GatewayOrderID)
	if id == "" || req.Amount <= 0 {
		return fmt.Errorf("%w: payment intent and positive amount are required", ErrInvalidRequest)
	}
	params := &stripe.PaymentIntentParams{Amount: stripe.Int64(req.Amount)}
	if currency := strings.TrimSpace(req.Currency); currency != "" {
		params.Currency = stripe.String(strings.ToLower(currency))
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("amend-%s-%d", id, req.Amount))
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Update(id, params)
	if err != nil {
		return classifyStripeError("update payment intent", err)
	}
	p.logger(ctx, "payments.stripe.intent.amended", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
	})
	return nil
}

// Refund refunds a PaymentIntent (pi_) or Charge (ch_) by transaction id.
func (p *StripeProvider) Refund(ctx context.Context, req GatewayRefundRequest) (GatewayRefund, error) {
	txn := strings.TrimSpace(req.TransactionID)
	if txn == "" || req.Amount <= 0 {
		return GatewayRefund{}, fmt.Errorf("%w: transaction id and positive amount are required", ErrInvalidRequest)
	}

	params := &stripe.RefundParams{Amount: stripe.Int64(req.Amount)}
	params.Context = ctx
	if strings.HasPrefix(txn, "ch_") || strings.HasPrefix(txn, "py_") {
		params.Charge = stripe.String(txn)
	} else {
		params.PaymentIntent = stripe.String(txn)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if note := textutil.PlainText(req.Reason, 500); note != "" {
		params.AddMetadata("reason", note)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return GatewayRefund{}, classifyStripeError("create refund", err)
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"refundId":    refund.ID,
		"transaction": txn,
		"status":      string(refund.Status),
	})
	return GatewayRefund{ID: refund.ID, Status: stripeRefundState(refund.Status), Provider: ProviderStripe}, nil
}

func stripeRefundState(status stripe.RefundStatus) RefundState {
	switch status {
	case stripe.RefundStatusSucceeded:
		return RefundStateSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundStateFailed
	default:
		return RefundStatePending
	}
}

// classifyStripeError marks client-side rejections with ErrInvalidRequest so they do not
// count against the circuit breaker.
func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeInvalidRequest || stripeErr.Type == stripe.ErrorTypeCard {
			return fmt.Errorf("%w: stripe %s: %s", ErrInvalidRequest, op, stripeErr.Msg)
		}
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
