package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/storefront/api/internal/payments"

// BreakerSettings tunes the circuit breaker guarding a provider.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	CallTimeout         time.Duration
	OnStateChange       func(name string, from, to string)
	Meter               metric.Meter
}

// GuardedProvider wraps a Provider with a circuit breaker, a per-call timeout and a call counter.
// Requests rejected as invalid and caller cancellations do not count as failures.
type GuardedProvider struct {
	name        string
	next        Provider
	breaker     *gobreaker.CircuitBreaker
	callTimeout time.Duration
	calls       metric.Int64Counter
}

// NewGuardedProvider wraps next. Zero settings fall back to 5 half-open probes, a 30s
// counting interval, a 10s open period and 5 consecutive failures to trip.
func NewGuardedProvider(name string, next Provider, settings BreakerSettings) (*GuardedProvider, error) {
	if next == nil {
		return nil, errors.New("payments: guarded provider requires a provider")
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 5
	}
	if settings.Interval <= 0 {
		settings.Interval = 30 * time.Second
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	threshold := settings.ConsecutiveFailures

	cbSettings := gobreaker.Settings{
		Name:        "payments_" + name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled)
		},
	}
	if settings.OnStateChange != nil {
		cbSettings.OnStateChange = func(name string, from, to gobreaker.State) {
			settings.OnStateChange(name, from.String(), to.String())
		}
	}

	meter := settings.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	calls, err := meter.Int64Counter("payments.gateway.calls",
		metric.WithDescription("Gateway calls by provider, operation and outcome"),
	)
	if err != nil {
		calls = nil
	}

	return &GuardedProvider{
		name:        name,
		next:        next,
		breaker:     gobreaker.NewCircuitBreaker(cbSettings),
		callTimeout: settings.CallTimeout,
		calls:       calls,
	}, nil
}

// State reports the breaker state ("closed", "half-open" or "open").
func (g *GuardedProvider) State() string {
	return g.breaker.State().String()
}

func (g *GuardedProvider) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	out, err := g.execute(ctx, "create_order", func(ctx context.Context) (any, error) {
		return g.next.CreateOrder(ctx, req)
	})
	if err != nil {
		return GatewayOrder{}, err
	}
	return out.(GatewayOrder), nil
}

func (g *GuardedProvider) AmendOrder(ctx context.Context, req GatewayAmendRequest) error {
	_, err := g.execute(ctx, "amend_order", func(ctx context.Context) (any, error) {
		return nil, g.next.AmendOrder(ctx, req)
	})
	return err
}

func (g *GuardedProvider) Refund(ctx context.Context, req GatewayRefundRequest) (GatewayRefund, error) {
	out, err := g.execute(ctx, "refund", func(ctx context.Context) (any, error) {
		return g.next.Refund(ctx, req)
	})
	if err != nil {
		return GatewayRefund{}, err
	}
	return out.(GatewayRefund), nil
}

func (g *GuardedProvider) execute(ctx context.Context, op string, call func(context.Context) (any, error)) (any, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		callCtx := ctx
		if g.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
			defer cancel()
		}
		return call(callCtx)
	})

	outcome := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
		err = fmt.Errorf("%w: %s breaker %s", ErrUnavailable, g.name, g.breaker.State())
	case err != nil:
		outcome = "error"
	}
	if g.calls != nil {
		g.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", g.name),
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
	return out, err
}
