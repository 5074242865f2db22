package services

import (
	"context"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	Address            = domain.Address
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService is the customer and admin surface over the Order Store.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	OverrideStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	ApplyEdits(ctx context.Context, cmd EditOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	Stats(ctx context.Context, query OrderStatsQuery) (OrderStats, error)
}

// PaymentService reconciles client confirmations and gateway webhooks with orders.
type PaymentService interface {
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	ApplyWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error)
}

// RefundService refunds settled orders through the gateway.
type RefundService interface {
	CreateRefund(ctx context.Context, cmd CreateRefundCommand) (Order, error)
}

// FXService exposes cached exchange rates.
type FXService interface {
	Rates(ctx context.Context, base string) (FXRatesView, error)
}

// SystemService exposes operational metadata such as health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PaymentGateway is the subset of payments.Manager the engines call.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error)
	AmendOrder(ctx context.Context, req payments.GatewayAmendRequest) error
	Refund(ctx context.Context, req payments.GatewayRefundRequest) (payments.GatewayRefund, error)
}

// OrderNotifier sends the customer confirmation and invoice.
type OrderNotifier interface {
	NotifyOrderConfirmed(ctx context.Context, order Order) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// FXRateSource fetches live exchange rates.
type FXRateSource interface {
	Latest(ctx context.Context, base string) (domain.FXRates, error)
}

// Order domain event types.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status.changed"
	OrderEventPaymentPaid   = "order.payment.paid"
	OrderEventRefunded      = "order.refunded"
	OrderEventDeleted       = "order.deleted"
)

// OrderEvent is the payload published for order domain events.
type OrderEvent struct {
	Type           string             `json:"type"`
	OrderID        string             `json:"orderId"`
	OrderNumber    string             `json:"orderNumber,omitempty"`
	UserID         string             `json:"userId,omitempty"`
	Status         domain.OrderStatus `json:"status,omitempty"`
	PreviousStatus domain.OrderStatus `json:"previousStatus,omitempty"`
	PaymentStatus  string             `json:"paymentStatus,omitempty"`
	Amount         int64              `json:"amount,omitempty"`
	Currency       string             `json:"currency,omitempty"`
	Actor          string             `json:"actor,omitempty"`
	OccurredAt     time.Time          `json:"occurredAt"`
}

// CreateOrderItem is one requested line; prices come from the catalog.
type CreateOrderItem struct {
	ProductRef string
	Quantity   int
}

// CreateOrderCommand places a new order for UserID.
type CreateOrderCommand struct {
	UserID          string
	Items           []CreateOrderItem
	PaymentMethod   domain.PaymentMethod
	Currency        string
	ShippingAddress *Address
	BillingAddress  *Address
	Notes           string
}

// OrderReadOptions scopes reads. An empty UserID is an administrative read.
type OrderReadOptions struct {
	UserID string
}

// OrderListFilter lists orders for a user or, with an empty UserID, for everyone.
type OrderListFilter struct {
	UserID     string
	Statuses   []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CancelOrderCommand cancels an order on behalf of a customer or admin.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	IsAdmin bool
	Reason  string
}

// OrderStatusCommand moves an order to Status.
type OrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
	Message string
	ActorID string
}

// EditOrderCommand applies an allow-listed set of admin edits in one write.
type EditOrderCommand struct {
	OrderID string
	Edits   []OrderEdit
	ActorID string
}

// OrderStatsQuery narrows statistics to a creation window.
type OrderStatsQuery struct {
	DateRange domain.RangeQuery[time.Time]
}

// OrderStats is the admin dashboard summary.
type OrderStats struct {
	TotalOrders    int64
	ByStatus       map[domain.OrderStatus]int64
	PaidRevenue    int64
	RefundedAmount int64
	GeneratedAt    time.Time
}

// ConfirmPaymentCommand carries the client-side gateway handoff.
type ConfirmPaymentCommand struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	UserID           string
}

// WebhookCommand is the raw gateway notification.
type WebhookCommand struct {
	Body      []byte
	Signature string
}

// WebhookResult reports whether the event changed state.
type WebhookResult struct {
	Received bool
	Applied  bool
	Event    string
}

// CreateRefundCommand refunds Amount (defaults to the order total).
type CreateRefundCommand struct {
	OrderID string
	Amount  *int64
	Reason  string
	ActorID string
}

// FXRatesView is the API view of rates; values are decimal strings.
type FXRatesView struct {
	Base      string
	Rates     map[string]string
	FetchedAt time.Time
}
