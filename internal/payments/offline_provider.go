package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// OfflineProvider handles cash on delivery. Orders carry a local reference instead of a
// gateway order, and refunds are recorded for manual payout.
type OfflineProvider struct{}

// NewOfflineProvider constructs the provider.
func NewOfflineProvider() *OfflineProvider { return &OfflineProvider{} }

func (OfflineProvider) CreateOrder(_ context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return GatewayOrder{ID: "cod_" + strings.ToLower(ulid.Make().String()), Provider: ProviderOffline}, nil
}

// AmendOrder has nothing to update; the courier collects the order total on delivery.
func (OfflineProvider) AmendOrder(_ context.Context, req GatewayAmendRequest) error {
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// Refund returns a pending refund; cash is returned out of band.
func (OfflineProvider) Refund(_ context.Context, req GatewayRefundRequest) (GatewayRefund, error) {
	if req.Amount <= 0 {
		return GatewayRefund{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return GatewayRefund{ID: "rf_" + strings.ToLower(ulid.Make().String()), Status: RefundStatePending, Provider: ProviderOffline}, nil
}
