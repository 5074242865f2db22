package repositories

import (
	"context"
	"time"

	"github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository is the Order Store. UpdateFields applies a single-document partial
// write; fields absent from the patch are left untouched. It fails with a conflict when
// the stored revision no longer matches patch.Revision.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindOne(ctx context.Context, query OrderQuery) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdateFields(ctx context.Context, orderID string, patch OrderPatch) error
	Count(ctx context.Context, query OrderQuery) (int64, error)
	Aggregate(ctx context.Context, filter OrderAggregateFilter) (OrderAggregate, error)
	Delete(ctx context.Context, orderID string) error
}

// ProductRepository resolves catalog price snapshots.
type ProductRepository interface {
	PricesFor(ctx context.Context, productRefs []string) (map[string]domain.ProductPrice, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderQuery matches orders on equality. Empty fields are ignored; an empty query
// matches every order.
type OrderQuery struct {
	UserID         string
	Status         domain.OrderStatus
	TransactionID  string
	GatewayOrderID string
}

// OrderListFilter drives cursor pagination, newest first.
type OrderListFilter struct {
	UserID     string
	Statuses   []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderAggregateFilter narrows Aggregate to a creation window.
type OrderAggregateFilter struct {
	DateRange domain.RangeQuery[time.Time]
}

// OrderAggregate is the admin statistics snapshot. Monetary values are minor units.
type OrderAggregate struct {
	TotalOrders    int64
	ByStatus       map[domain.OrderStatus]int64
	PaidRevenue    int64
	RefundedAmount int64
}

// OrderPatch lists the fields a single UpdateFields call writes. Nil pointers are left
// untouched and AppendTimeline entries are appended after existing ones, duplicates
// included. Revision is the order revision the patch was computed from.
type OrderPatch struct {
	Status          *domain.OrderStatus
	Pricing         *domain.OrderPricing
	Payment         *domain.OrderPayment
	Refund          *domain.OrderRefund
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	Tracking        *domain.ShipmentTracking
	Notes           *string
	CancelReason    *string
	AppendTimeline  []domain.TimelineEntry
	UpdatedAt       time.Time
	Revision        int64
}

// IsEmpty reports whether the patch carries no field changes.
func (p OrderPatch) IsEmpty() bool {
	return p.Status == nil && p.Pricing == nil && p.Payment == nil && p.Refund == nil &&
		p.ShippingAddress == nil && p.BillingAddress == nil && p.Tracking == nil &&
		p.Notes == nil && p.CancelReason == nil && len(p.AppendTimeline) == 0
}

// Apply writes the patch onto order in memory, as the store would.
func (p OrderPatch) Apply(order *domain.Order) {
	if order == nil {
		return
	}
	if p.Status != nil {
		order.Status = *p.Status
	}
	if p.Pricing != nil {
		order.Pricing = *p.Pricing
	}
	if p.Payment != nil {
		order.Payment = *p.Payment
	}
	if p.Refund != nil {
		refund := *p.Refund
		order.Refund = &refund
	}
	if p.ShippingAddress != nil {
		addr := *p.ShippingAddress
		order.ShippingAddress = &addr
	}
	if p.BillingAddress != nil {
		addr := *p.BillingAddress
		order.BillingAddress = &addr
	}
	if p.Tracking != nil {
		tracking := *p.Tracking
		order.Tracking = &tracking
	}
	if p.Notes != nil {
		order.Notes = *p.Notes
	}
	if p.CancelReason != nil {
		reason := *p.CancelReason
		order.CancelReason = &reason
	}
	order.Timeline = append(order.Timeline, p.AppendTimeline...)
	if !p.UpdatedAt.IsZero() {
		order.UpdatedAt = p.UpdatedAt
	}
	order.Revision = p.Revision + 1
}
