package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// ProductRepository serves prices from a fixed in-memory catalog.
type ProductRepository struct {
	mu     sync.RWMutex
	prices map[string]domain.ProductPrice
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository seeds the catalog.
func NewProductRepository(prices ...domain.ProductPrice) *ProductRepository {
	repo := &ProductRepository{prices: make(map[string]domain.ProductPrice, len(prices))}
	for _, price := range prices {
		repo.Put(price)
	}
	return repo
}

// Put adds or replaces a price snapshot.
func (r *ProductRepository) Put(price domain.ProductPrice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[strings.TrimSpace(price.ProductRef)] = price
}

// PricesFor returns the known prices; unknown refs are omitted.
func (r *ProductRepository) PricesFor(_ context.Context, refs []string) (map[string]domain.ProductPrice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.ProductPrice, len(refs))
	for _, ref := range refs {
		if price, ok := r.prices[strings.TrimSpace(ref)]; ok {
			out[price.ProductRef] = price
		}
	}
	return out, nil
}
