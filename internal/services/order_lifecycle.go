package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/textutil"
)

const (
	maxTimelineMessageLength = 500
	overridePrefix           = "override: "
)

// orderTransitions is the lifecycle graph. Statuses missing from the keys are terminal.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

// CanTransition reports whether from → to is an edge of the lifecycle graph.
func CanTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// Lifecycle applies status changes and timeline appends to an in-memory order.
// It never persists; callers write the resulting patch.
type Lifecycle struct {
	clock func() time.Time
}

// NewLifecycle constructs a Lifecycle. A nil clock uses time.Now.
func NewLifecycle(clock func() time.Time) Lifecycle {
	if clock == nil {
		clock = time.Now
	}
	return Lifecycle{clock: func() time.Time { return clock().UTC() }}
}

// TransitionStatus moves order to next along a graph edge and records one timeline entry.
func (l Lifecycle) TransitionStatus(order *Order, next domain.OrderStatus, message, actor string) (domain.TimelineEntry, error) {
	if err := checkTarget(order, next); err != nil {
		return domain.TimelineEntry{}, err
	}
	if !CanTransition(order.Status, next) {
		return domain.TimelineEntry{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, next)
	}
	order.Status = next
	return l.AppendTimelineEntry(order, string(next), message, actor), nil
}

// OverrideStatus sets any enumerated status other than the current one, bypassing the graph.
// The timeline message is prefixed so overrides stand out in audits.
func (l Lifecycle) OverrideStatus(order *Order, next domain.OrderStatus, message, actor string) (domain.TimelineEntry, error) {
	if err := checkTarget(order, next); err != nil {
		return domain.TimelineEntry{}, err
	}
	order.Status = next
	return l.AppendTimelineEntry(order, string(next), overridePrefix+message, actor), nil
}

// AppendTimelineEntry appends an audit entry without touching order.Status. The timestamp
// never precedes the previous entry's.
func (l Lifecycle) AppendTimelineEntry(order *Order, status, message, actor string) domain.TimelineEntry {
	now := l.clock()
	if last, ok := order.LastTimelineEntry(); ok && now.Before(last.Timestamp) {
		now = last.Timestamp
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = domain.ActorSystem
	}
	entry := domain.TimelineEntry{
		Status:    status,
		Message:   textutil.PlainText(message, maxTimelineMessageLength),
		Timestamp: now,
		Actor:     actor,
	}
	order.Timeline = append(order.Timeline, entry)
	order.UpdatedAt = now
	return entry
}

func checkTarget(order *Order, next domain.OrderStatus) error {
	if order == nil {
		return fmt.Errorf("%w: order is required", ErrOrderInvalidInput)
	}
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, next)
	}
	if order.Status == next {
		return fmt.Errorf("%w: order already %s", ErrIllegalTransition, next)
	}
	return nil
}

// ComputeTotals re-derives line totals and the order total from the stored components:
// total = subtotal + tax + shipping - discount. Calling it twice changes nothing.
func ComputeTotals(order *Order) {
	if order == nil {
		return
	}
	var subtotal int64
	for i := range order.Items {
		item := &order.Items[i]
		item.LineTotal = int64(item.Quantity) * item.UnitPrice
		subtotal += item.LineTotal
	}
	p := &order.Pricing
	p.Subtotal = subtotal
	p.Total = p.Subtotal + p.Tax + p.Shipping - p.Discount
}
