package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state set when checkout starts.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment was accepted (or cash on delivery was chosen and approved).
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned indicates a delivered order was sent back.
	OrderStatusReturned OrderStatus = "returned"
)

var orderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:    {},
	OrderStatusConfirmed:  {},
	OrderStatusProcessing: {},
	OrderStatusShipped:    {},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusReturned:   {},
}

// Valid reports whether s is one of the enumerated order statuses.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatuses[s]
	return ok
}

// ParseOrderStatus normalises raw input into an OrderStatus.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// PaymentMethod identifies how the customer pays for an order.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodWallet PaymentMethod = "wallet"
	// PaymentMethodCOD is cash on delivery; no gateway order is created.
	PaymentMethodCOD PaymentMethod = "cod"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodPayPal, PaymentMethodWallet, PaymentMethodCOD:
		return true
	default:
		return false
	}
}

// RequiresGateway reports whether the method is settled through an online gateway.
func (m PaymentMethod) RequiresGateway() bool {
	return m.Valid() && m != PaymentMethodCOD
}

// PaymentStatus tracks the money side of an order, independent of fulfilment.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// Settled reports whether money was captured at some point, whether or not it was later refunded.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusRefunded || s == PaymentStatusPartiallyRefunded
}

// RefundStatus is the state of the refund sub-record.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusCompleted RefundStatus = "completed"
)

// TimelineStatusRefunded labels refund entries on the timeline. It is not an order status.
const TimelineStatusRefunded = "refunded"

// Order is the aggregate root for a purchase.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	Pricing         OrderPricing
	ShippingAddress *Address
	BillingAddress  *Address
	Payment         OrderPayment
	Status          OrderStatus
	Timeline        []TimelineEntry
	Refund          *OrderRefund
	Tracking        *ShipmentTracking
	Notes           string
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// Revision counts committed writes. A patch built from a stale revision is refused.
	Revision        int64
}

// OrderItem is a purchased line. UnitPrice and LineTotal are frozen at creation.
type OrderItem struct {
	ProductRef string
	Name       string
	Quantity   int
	UnitPrice  int64
	LineTotal  int64
}

// OrderPricing holds monetary fields in the smallest currency unit.
type OrderPricing struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Discount int64
	Total    int64
	Currency string
}

// OrderPayment is the payment sub-record of an order.
type OrderPayment struct {
	Method         PaymentMethod
	Status         PaymentStatus
	Provider       string
	GatewayOrderID string
	TransactionID  string
	Amount         int64
	Currency       string
	PaidAt         *time.Time
}

// TimelineEntry is one append-only audit record. Status is either an OrderStatus
// or a marker such as TimelineStatusRefunded.
type TimelineEntry struct {
	Status    string
	Message   string
	Timestamp time.Time
	Actor     string
}

// OrderRefund records the outcome of a gateway refund.
type OrderRefund struct {
	Amount          int64
	Reason          string
	Status          RefundStatus
	GatewayRefundID string
	RequestedAt     time.Time
	ProcessedAt     *time.Time
}

// ShipmentTracking stores the carrier reference for a shipped order.
type ShipmentTracking struct {
	Carrier        string
	TrackingNumber string
}

// LastTimelineEntry returns the most recent timeline entry, if any.
func (o Order) LastTimelineEntry() (TimelineEntry, bool) {
	if len(o.Timeline) == 0 {
		return TimelineEntry{}, false
	}
	return o.Timeline[len(o.Timeline)-1], true
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.Timeline != nil {
		out.Timeline = append([]TimelineEntry(nil), o.Timeline...)
	}
	out.ShippingAddress = cloneAddress(o.ShippingAddress)
	out.BillingAddress = cloneAddress(o.BillingAddress)
	if o.Payment.PaidAt != nil {
		paid := *o.Payment.PaidAt
		out.Payment.PaidAt = &paid
	}
	if o.Refund != nil {
		refund := *o.Refund
		if o.Refund.ProcessedAt != nil {
			processed := *o.Refund.ProcessedAt
			refund.ProcessedAt = &processed
		}
		out.Refund = &refund
	}
	if o.Tracking != nil {
		tracking := *o.Tracking
		out.Tracking = &tracking
	}
	if o.CancelReason != nil {
		reason := *o.CancelReason
		out.CancelReason = &reason
	}
	return out
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	out := *addr
	out.Line2 = cloneString(addr.Line2)
	out.State = cloneString(addr.State)
	out.Phone = cloneString(addr.Phone)
	return &out
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

// Actor references recorded on timeline entries.
const ActorSystem = "system"

// UserActor formats a customer actor reference.
func UserActor(uid string) string {
	return "user:" + strings.TrimSpace(uid)
}

// AdminActor formats a staff actor reference.
func AdminActor(uid string) string {
	return "admin:" + strings.TrimSpace(uid)
}

// GatewayActor formats a gateway or webhook actor reference.
func GatewayActor(name string) string {
	return "gateway:" + strings.TrimSpace(name)
}
