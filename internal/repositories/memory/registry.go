package memory

import (
	"context"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// Registry bundles the in-memory repositories for local runs.
type Registry struct {
	orders   *OrderRepository
	products *ProductRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs a registry seeded with the given catalog.
func NewRegistry(catalog []domain.ProductPrice, health repositories.HealthRepository) *Registry {
	return &Registry{
		orders:   NewOrderRepository(),
		products: NewProductRepository(catalog...),
		health:   health,
	}
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }
func (r *Registry) Close(context.Context) error              { return nil }
