package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	Refunds  services.RefundService
	FX       services.FXService
	System   services.SystemService
}

// Dependencies carries the external collaborators built by the process entrypoint.
// Events, Notifier and FXSource are optional; a nil value disables that integration.
type Dependencies struct {
	Gateway  services.PaymentGateway
	Events   services.OrderEventPublisher
	Notifier services.OrderNotifier
	FXSource services.FXRateSource
	Build    services.BuildInfo
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Firestore
// registry and real gateways, while tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	clock := deps.Clock
	orders := reg.Orders()
	if orders == nil {
		return Services{}, errors.New("order repository is required")
	}

	numbers := services.NewOrderNumberGenerator(orders, cfg.Gateway.OrderNumberPrefix, clock,
		observability.ServiceLogger(deps.Logger.Named("order_number")))

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orders,
		Products: reg.Products(),
		Gateway:  deps.Gateway,
		Events:   deps.Events,
		Numbers:  numbers,
		Pricing: services.PricingPolicy{
			DefaultCurrency:       cfg.Checkout.DefaultCurrency,
			TaxRateBasisPoints:    cfg.Checkout.TaxRateBasisPoints,
			ShippingFee:           cfg.Checkout.ShippingFee,
			FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
		},
		Clock:  clock,
		Logger: observability.ServiceLogger(deps.Logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:        orders,
		Notifier:      deps.Notifier,
		Events:        deps.Events,
		KeySecret:     cfg.Gateway.KeySecret,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		NotifyTimeout: cfg.PubSub.PublishTimeout,
		Clock:         clock,
		Logger:        observability.ServiceLogger(deps.Logger.Named("payments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:  orders,
		Gateway: deps.Gateway,
		Events:  deps.Events,
		Clock:   clock,
		Logger:  observability.ServiceLogger(deps.Logger.Named("refunds")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund service: %w", err)
	}
	svc.Refunds = refundSvc

	if deps.FXSource != nil {
		fxSvc, err := services.NewFXService(services.FXServiceDeps{
			Source:      deps.FXSource,
			Cache:       cache.NewTTLCache[string, domain.FXRates](cfg.FX.CacheTTL, cache.WithClock(cache.Clock(clock))),
			DefaultBase: cfg.Checkout.DefaultCurrency,
			Logger:      observability.ServiceLogger(deps.Logger.Named("fx")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build fx service: %w", err)
		}
		svc.FX = fxSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
