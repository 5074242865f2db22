package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/cache"
)

var (
	// ErrFXUnavailable indicates rates could not be fetched and nothing usable was cached.
	ErrFXUnavailable = errors.New("fx: rates unavailable")
	// ErrFXInvalidCurrency indicates the requested base is not an ISO 4217 code.
	ErrFXInvalidCurrency = errors.New("fx: invalid currency")
)

// FXServiceDeps bundles constructor inputs for the FX service.
type FXServiceDeps struct {
	Source      FXRateSource
	Cache       *cache.TTLCache[string, domain.FXRates]
	DefaultBase string
	Logger      Logger
}

type fxService struct {
	source      FXRateSource
	cache       *cache.TTLCache[string, domain.FXRates]
	defaultBase string
	logger      Logger
}

// NewFXService constructs the rate service. A nil cache fetches on every call.
func NewFXService(deps FXServiceDeps) (FXService, error) {
	if deps.Source == nil {
		return nil, errors.New("fx service: rate source is required")
	}
	base, err := domain.NormalizeCurrency(deps.DefaultBase)
	if err != nil {
		base = "USD"
	}
	rates := deps.Cache
	if rates == nil {
		rates = cache.NewTTLCache[string, domain.FXRates](0)
	}
	return &fxService{source: deps.Source, cache: rates, defaultBase: base, logger: deps.Logger.or()}, nil
}

func (s *fxService) Rates(ctx context.Context, base string) (FXRatesView, error) {
	code := s.defaultBase
	if base != "" {
		normalized, err := domain.NormalizeCurrency(base)
		if err != nil {
			return FXRatesView{}, fmt.Errorf("%w: %q", ErrFXInvalidCurrency, base)
		}
		code = normalized
	}
	if cached, ok := s.cache.Get(code); ok {
		return ratesView(cached), nil
	}
	rates, err := s.source.Latest(ctx, code)
	if err != nil {
		s.logger(ctx, "fx.fetch.failed", map[string]any{"base": code, "error": err.Error()})
		return FXRatesView{}, fmt.Errorf("%w: %v", ErrFXUnavailable, err)
	}
	if rates.FetchedAt.IsZero() {
		rates.FetchedAt = time.Now().UTC()
	}
	s.cache.Set(code, rates)
	return ratesView(rates), nil
}

func ratesView(rates domain.FXRates) FXRatesView {
	out := make(map[string]string, len(rates.Rates))
	for code, rate := range rates.Rates {
		out[code] = strconv.FormatFloat(rate, 'f', -1, 64)
	}
	return FXRatesView{Base: rates.Base, Rates: out, FetchedAt: rates.FetchedAt.UTC()}
}
