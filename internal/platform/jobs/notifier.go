package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/storefront/api/internal/domain"
)

// Notification kinds understood by the mailer.
const (
	NotificationOrderConfirmed = "order.confirmed"
)

// OrderConfirmationMessage asks the mailer to render and send the confirmation and invoice.
type OrderConfirmationMessage struct {
	Kind        string                  `json:"kind"`
	OrderID     string                  `json:"orderId"`
	OrderNumber string                  `json:"orderNumber"`
	UserID      string                  `json:"userId"`
	Items       []ConfirmationLine      `json:"items"`
	Totals      ConfirmationTotals      `json:"totals"`
	ShipTo      *ConfirmationAddress    `json:"shipTo,omitempty"`
	Payment     ConfirmationPaymentInfo `json:"payment"`
	RequestedAt time.Time               `json:"requestedAt"`
}

// ConfirmationLine is one invoice line.
type ConfirmationLine struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

// ConfirmationTotals mirrors the order pricing in minor units.
type ConfirmationTotals struct {
	Subtotal int64  `json:"subtotal"`
	Tax      int64  `json:"tax"`
	Shipping int64  `json:"shipping"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

// ConfirmationAddress is the delivery address block.
type ConfirmationAddress struct {
	Recipient  string   `json:"recipient"`
	Lines      []string `json:"lines"`
	City       string   `json:"city"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
}

// ConfirmationPaymentInfo is the payment summary printed on the invoice.
type ConfirmationPaymentInfo struct {
	Method        domain.PaymentMethod `json:"method"`
	TransactionID string               `json:"transactionId,omitempty"`
	PaidAt        *time.Time           `json:"paidAt,omitempty"`
}

// PubSubOrderNotifier hands confirmation requests to the mailer through Pub/Sub.
type PubSubOrderNotifier struct {
	pub pubsubPublisher
	now func() time.Time
}

// NewPubSubOrderNotifier binds the notifier to the notifications topic.
func NewPubSubOrderNotifier(topic *pubsub.Topic, timeout time.Duration) (*PubSubOrderNotifier, error) {
	pub, err := newPubSubPublisher(topic, timeout)
	if err != nil {
		return nil, fmt.Errorf("pubsub order notifier: %w", err)
	}
	return &PubSubOrderNotifier{pub: pub, now: time.Now}, nil
}

// NotifyOrderConfirmed publishes a confirmation request for the order.
func (n *PubSubOrderNotifier) NotifyOrderConfirmed(ctx context.Context, order domain.Order) error {
	if n == nil {
		return errors.New("pubsub order notifier: not initialised")
	}
	msg := OrderConfirmationMessage{
		Kind:        NotificationOrderConfirmed,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Totals: ConfirmationTotals{
			Subtotal: order.Pricing.Subtotal,
			Tax:      order.Pricing.Tax,
			Shipping: order.Pricing.Shipping,
			Discount: order.Pricing.Discount,
			Total:    order.Pricing.Total,
			Currency: order.Pricing.Currency,
		},
		ShipTo: confirmationAddress(order.ShippingAddress),
		Payment: ConfirmationPaymentInfo{
			Method:        order.Payment.Method,
			TransactionID: order.Payment.TransactionID,
			PaidAt:        order.Payment.PaidAt,
		},
		RequestedAt: n.now().UTC(),
	}
	for _, item := range order.Items {
		msg.Items = append(msg.Items, ConfirmationLine{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}

	attrs := map[string]string{}
	setAttr(attrs, "kind", msg.Kind)
	setAttr(attrs, "orderId", msg.OrderID)
	setAttr(attrs, "userId", msg.UserID)
	if _, err := n.pub.publish(ctx, msg, attrs); err != nil {
		return fmt.Errorf("notify order confirmed: %w", err)
	}
	return nil
}

func confirmationAddress(addr *domain.Address) *ConfirmationAddress {
	if addr == nil {
		return nil
	}
	lines := []string{addr.Line1}
	if addr.Line2 != nil && *addr.Line2 != "" {
		lines = append(lines, *addr.Line2)
	}
	city := addr.City
	if addr.State != nil && *addr.State != "" {
		city += ", " + *addr.State
	}
	return &ConfirmationAddress{
		Recipient:  addr.Recipient,
		Lines:      lines,
		City:       city,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}
