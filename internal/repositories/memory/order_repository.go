package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

// OrderRepository keeps orders in a mutex-guarded map. Reads and writes copy orders so
// callers never alias stored state.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return &Error{op: "insert", kind: kindInvalid}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[id]; exists {
		return &Error{op: "insert", id: id, kind: kindConflict}
	}
	r.orders[id] = order.Clone()
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, &Error{op: "find", id: orderID, kind: kindNotFound}
	}
	return order.Clone(), nil
}

// FindOne returns the oldest matching order.
func (r *OrderRepository) FindOne(_ context.Context, query repositories.OrderQuery) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found domain.Order
		ok    bool
	)
	for _, order := range r.orders {
		if !matches(order, query) {
			continue
		}
		if !ok || order.CreatedAt.Before(found.CreatedAt) {
			found, ok = order, true
		}
	}
	if !ok {
		return domain.Order{}, &Error{op: "findOne", kind: kindNotFound}
	}
	return found.Clone(), nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, &Error{op: "list", kind: kindInvalid}
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	r.mu.RLock()
	candidates := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if listed(order, filter) {
			candidates = append(candidates, order.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	start := 0
	if !cursor.IsZero() {
		start = len(candidates)
		for i, order := range candidates {
			if order.CreatedAt.Before(cursor.CreatedAt) ||
				(order.CreatedAt.Equal(cursor.CreatedAt) && order.ID < cursor.ID) {
				start = i
				break
			}
		}
	}
	end := min(start+size, len(candidates))
	page := domain.CursorPage[domain.Order]{Items: candidates[start:end]}
	if end < len(candidates) {
		last := candidates[end-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (r *OrderRepository) UpdateFields(_ context.Context, orderID string, patch repositories.OrderPatch) error {
	id := strings.TrimSpace(orderID)
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return &Error{op: "update", id: id, kind: kindNotFound}
	}
	if order.Revision != patch.Revision {
		return &Error{op: "update", id: id, kind: kindStale}
	}
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}
	patch.Apply(&order)
	r.orders[id] = order.Clone()
	return nil
}

func (r *OrderRepository) Count(_ context.Context, query repositories.OrderQuery) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, order := range r.orders {
		if matches(order, query) {
			count++
		}
	}
	return count, nil
}

func (r *OrderRepository) Aggregate(_ context.Context, filter repositories.OrderAggregateFilter) (repositories.OrderAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := repositories.OrderAggregate{ByStatus: make(map[domain.OrderStatus]int64)}
	for _, order := range r.orders {
		if !domain.WithinTime(filter.DateRange, order.CreatedAt) {
			continue
		}
		out.TotalOrders++
		out.ByStatus[order.Status]++
		if order.Payment.Status.Settled() {
			out.PaidRevenue += order.Pricing.Total
		}
		if order.Refund != nil && order.Refund.Status == domain.RefundStatusCompleted {
			out.RefundedAmount += order.Refund.Amount
		}
	}
	return out, nil
}

func (r *OrderRepository) Delete(_ context.Context, orderID string) error {
	id := strings.TrimSpace(orderID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return &Error{op: "delete", id: id, kind: kindNotFound}
	}
	delete(r.orders, id)
	return nil
}

// Ping always succeeds; it lets the memory store take part in readiness checks.
func (r *OrderRepository) Ping(context.Context) error { return nil }

func matches(order domain.Order, query repositories.OrderQuery) bool {
	switch {
	case query.UserID != "" && order.UserID != query.UserID:
		return false
	case query.Status != "" && order.Status != query.Status:
		return false
	case query.TransactionID != "" && order.Payment.TransactionID != query.TransactionID:
		return false
	case query.GatewayOrderID != "" && order.Payment.GatewayOrderID != query.GatewayOrderID:
		return false
	}
	return true
}

func listed(order domain.Order, filter repositories.OrderListFilter) bool {
	if filter.UserID != "" && order.UserID != filter.UserID {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
		return false
	}
	return domain.WithinTime(filter.DateRange, order.CreatedAt)
}
