package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/storefront/api/internal/domain"
)

// Provider keys registered with the Manager.
const (
	ProviderStripe  = "stripe"
	ProviderOffline = "offline"
)

// RefundState is the normalised refund outcome reported by a provider.
type RefundState string

const (
	RefundStatePending   RefundState = "pending"
	RefundStateSucceeded RefundState = "succeeded"
	RefundStateFailed    RefundState = "failed"
)

var (
	// ErrUnsupportedProvider is returned when no provider is routed for a payment method.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidRequest marks requests rejected before reaching the provider.
	ErrInvalidRequest = errors.New("payments: invalid request")
	// ErrUnavailable is returned while the circuit breaker rejects calls.
	ErrUnavailable = errors.New("payments: gateway unavailable")
)

// GatewayOrderRequest asks the gateway to open a payable order for the amount.
type GatewayOrderRequest struct {
	OrderID  string
	Amount   int64
	Currency string
	Receipt  string
	Method   domain.PaymentMethod
	Metadata map[string]string
}

// GatewayOrder is the gateway-side handle the client pays against.
type GatewayOrder struct {
	ID           string
	Provider     string
	ClientSecret string
}

// GatewayAmendRequest moves the payable amount of an unpaid gateway order.
type GatewayAmendRequest struct {
	GatewayOrderID string
	Amount         int64
	Currency       string
	Method         domain.PaymentMethod
}

// GatewayRefundRequest refunds a captured transaction, fully or partially.
type GatewayRefundRequest struct {
	TransactionID  string
	Amount         int64
	Reason         string
	Method         domain.PaymentMethod
	IdempotencyKey string
}

// GatewayRefund is the gateway refund record.
type GatewayRefund struct {
	ID       string
	Status   RefundState
	Provider string
}

// Provider is implemented by each gateway adapter.
type Provider interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	AmendOrder(ctx context.Context, req GatewayAmendRequest) error
	Refund(ctx context.Context, req GatewayRefundRequest) (GatewayRefund, error)
}

// Manager routes gateway calls to a provider chosen by payment method.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	methodRoutes    map[domain.PaymentMethod]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used for methods without an explicit route.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseKey(provider)
	}
}

// WithMethodRoutes maps payment methods to provider keys, e.g. {"paypal": "stripe"}.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for method, provider := range routes {
			key := domain.PaymentMethod(normaliseKey(method))
			if key == "" {
				continue
			}
			m.methodRoutes[key] = normaliseKey(provider)
		}
	}
}

// NewManager constructs a Manager. Cash on delivery routes to the offline provider
// when one is registered.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:    make(map[string]Provider, len(providers)),
		methodRoutes: make(map[domain.PaymentMethod]string),
	}
	for key, provider := range providers {
		name := normaliseKey(key)
		if name == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", key)
		}
		m.providers[name] = provider
	}
	if _, ok := m.providers[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	if _, ok := m.providers[ProviderOffline]; ok {
		m.methodRoutes[domain.PaymentMethodCOD] = ProviderOffline
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// ProviderFor reports the provider key that handles method.
func (m *Manager) ProviderFor(method domain.PaymentMethod) (string, error) {
	key, _, err := m.resolve(method)
	return key, err
}

func (m *Manager) resolve(method domain.PaymentMethod) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if key, ok := m.methodRoutes[method]; ok {
		if provider, ok := m.providers[key]; ok {
			return key, provider, nil
		}
		return "", nil, fmt.Errorf("%w: %s routed to unregistered %q", ErrUnsupportedProvider, method, key)
	}
	if method == domain.PaymentMethodCOD {
		return "", nil, fmt.Errorf("%w: no offline provider for cash on delivery", ErrUnsupportedProvider)
	}
	if provider, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, provider, nil
	}
	if len(m.providers) == 1 {
		for key, provider := range m.providers {
			return key, provider, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, method)
}

// CreateOrder delegates to the provider routed for req.Method.
func (m *Manager) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolve(req.Method)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// AmendOrder delegates to the provider routed for req.Method.
func (m *Manager) AmendOrder(ctx context.Context, req GatewayAmendRequest) error {
	_, provider, err := m.resolve(req.Method)
	if err != nil {
		return err
	}
	return provider.AmendOrder(ctx, req)
}

// Refund delegates to the provider routed for req.Method.
func (m *Manager) Refund(ctx context.Context, req GatewayRefundRequest) (GatewayRefund, error) {
	key, provider, err := m.resolve(req.Method)
	if err != nil {
		return GatewayRefund{}, err
	}
	refund, err := provider.Refund(ctx, req)
	if err != nil {
		return GatewayRefund{}, err
	}
	refund.Provider = key
	return refund, nil
}

func normaliseKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
