package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/storefront/api/internal/repositories"
)

const defaultOrderNumberPrefix = "AMZ"

// OrderCounter is the part of the store the generator reads.
type OrderCounter interface {
	Count(ctx context.Context, query repositories.OrderQuery) (int64, error)
}

// OrderNumberGenerator formats PREFIX-{epochMillis}-{sequence:06d}. The sequence is the
// store count plus one; when counting fails a random six digit suffix is used instead.
// Two checkouts in the same millisecond can read the same count, so the number is a
// display reference and nothing keys on it without the order id.
type OrderNumberGenerator struct {
	counter OrderCounter
	prefix  string
	clock   func() time.Time
	random  func() int
	logger  func(context.Context, string, map[string]any)
}

// NewOrderNumberGenerator constructs the generator. An empty prefix uses AMZ.
func NewOrderNumberGenerator(counter OrderCounter, prefix string, clock func() time.Time, logger func(context.Context, string, map[string]any)) *OrderNumberGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderNumberGenerator{
		counter: counter,
		prefix:  prefix,
		clock:   clock,
		random:  func() int { return rand.IntN(1_000_000) },
		logger:  logger,
	}
}

// Next returns a new order number. It never fails.
func (g *OrderNumberGenerator) Next(ctx context.Context) string {
	millis := g.clock().UnixMilli()
	if g.counter != nil {
		count, err := g.counter.Count(ctx, repositories.OrderQuery{})
		if err == nil {
			return g.format(millis, (count+1)%1_000_000)
		}
		g.logger(ctx, "order.number.fallback", map[string]any{"error": err.Error()})
	}
	return g.format(millis, int64(g.random()))
}

func (g *OrderNumberGenerator) format(millis, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", g.prefix, millis, seq)
}
