package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
)

func TestLifecycleTransitionsAlongGraph(t *testing.T) {
	for from, targets := range orderTransitions {
		for _, to := range targets {
			order := Order{Status: from, Timeline: []domain.TimelineEntry{{Status: string(from), Timestamp: testNow}}}
			lifecycle := NewLifecycle(func() time.Time { return testNow.Add(time.Minute) })

			entry, err := lifecycle.TransitionStatus(&order, to, "moved", "admin:ops")
			if err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
			}
			if order.Status != to {
				t.Fatalf("%s -> %s: status is %s", from, to, order.Status)
			}
			if len(order.Timeline) != 2 {
				t.Fatalf("%s -> %s: expected exactly one appended entry, got %d", from, to, len(order.Timeline)-1)
			}
			if entry.Status != string(to) || order.Timeline[1] != entry {
				t.Fatalf("%s -> %s: unexpected entry %#v", from, to, entry)
			}
			if entry.Timestamp.Before(order.Timeline[0].Timestamp) {
				t.Fatalf("%s -> %s: timestamp went backwards", from, to)
			}
		}
	}
}

func TestLifecycleRejectsEdgesOutsideGraph(t *testing.T) {
	all := []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusReturned,
	}
	lifecycle := NewLifecycle(fixedClock)
	for _, from := range all {
		for _, to := range all {
			if CanTransition(from, to) {
				continue
			}
			order := Order{Status: from}
			if _, err := lifecycle.TransitionStatus(&order, to, "", ""); !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("%s -> %s: expected ErrIllegalTransition, got %v", from, to, err)
			}
			if order.Status != from || len(order.Timeline) != 0 {
				t.Fatalf("%s -> %s: order mutated on rejection", from, to)
			}
		}
	}
}

func TestLifecycleRejectsUnknownStatus(t *testing.T) {
	order := Order{Status: domain.OrderStatusPending}
	_, err := NewLifecycle(fixedClock).TransitionStatus(&order, "teleported", "", "")
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLifecycleTimestampsNeverDecrease(t *testing.T) {
	order := Order{
		Status:   domain.OrderStatusPending,
		Timeline: []domain.TimelineEntry{{Status: "pending", Timestamp: testNow}},
	}
	// A skewed clock behind the last entry must not produce an earlier timestamp.
	entry, err := NewLifecycle(func() time.Time { return testNow.Add(-time.Hour) }).
		TransitionStatus(&order, domain.OrderStatusConfirmed, "confirmed", "")
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !entry.Timestamp.Equal(testNow) {
		t.Fatalf("expected clamped timestamp %s, got %s", testNow, entry.Timestamp)
	}
	if entry.Actor != domain.ActorSystem {
		t.Fatalf("expected default actor, got %q", entry.Actor)
	}
}

func TestLifecycleOverrideBypassesGraph(t *testing.T) {
	order := Order{Status: domain.OrderStatusCancelled}
	entry, err := NewLifecycle(fixedClock).OverrideStatus(&order, domain.OrderStatusProcessing, "reopened after call", "admin:ops")
	if err != nil {
		t.Fatalf("OverrideStatus: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
	if !strings.HasPrefix(entry.Message, "override: ") {
		t.Fatalf("expected override prefix, got %q", entry.Message)
	}
	if _, err := NewLifecycle(fixedClock).OverrideStatus(&order, domain.OrderStatusProcessing, "", ""); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected same-status override to fail, got %v", err)
	}
}

func TestAppendTimelineEntryKeepsStatus(t *testing.T) {
	order := Order{Status: domain.OrderStatusDelivered}
	entry := NewLifecycle(fixedClock).AppendTimelineEntry(&order, domain.TimelineStatusRefunded, "<b>Refund processed: re_1</b>", "admin:ops")
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("status changed to %s", order.Status)
	}
	if entry.Message != "Refund processed: re_1" {
		t.Fatalf("expected markup stripped, got %q", entry.Message)
	}
	if !order.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected updatedAt bumped")
	}
}

func TestComputeTotals(t *testing.T) {
	order := Order{
		Items:   []domain.OrderItem{{Quantity: 2, UnitPrice: 30}, {Quantity: 1, UnitPrice: 40}},
		Pricing: domain.OrderPricing{Tax: 8, Shipping: 5, Discount: 10},
	}
	ComputeTotals(&order)
	if order.Pricing.Subtotal != 100 || order.Pricing.Total != 103 {
		t.Fatalf("expected subtotal 100 total 103, got %+v", order.Pricing)
	}
	if order.Items[0].LineTotal != 60 {
		t.Fatalf("expected line total 60, got %d", order.Items[0].LineTotal)
	}
	first := order.Pricing
	ComputeTotals(&order)
	if order.Pricing != first {
		t.Fatalf("ComputeTotals not idempotent: %+v then %+v", first, order.Pricing)
	}
}
