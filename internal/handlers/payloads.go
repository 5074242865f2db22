package handlers

import (
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

// orderPayload is the API view of an order. Monetary fields are integers in minor
// units of pricing.currency.
type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"orderNumber"`
	UserID          string             `json:"userId"`
	Status          string             `json:"status"`
	Items           []orderItemPayload `json:"items"`
	Pricing         pricingPayload     `json:"pricing"`
	ShippingAddress *addressPayload    `json:"shippingAddress,omitempty"`
	BillingAddress  *addressPayload    `json:"billingAddress,omitempty"`
	Payment         paymentPayload     `json:"payment"`
	Timeline        []timelinePayload  `json:"timeline"`
	Refund          *refundPayload     `json:"refund,omitempty"`
	Tracking        *trackingPayload   `json:"tracking,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	CancelReason    string             `json:"cancelReason,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ProductRef string `json:"productRef"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	LineTotal  int64  `json:"lineTotal"`
}

type pricingPayload struct {
	Subtotal int64  `json:"subtotal"`
	Tax      int64  `json:"tax"`
	Shipping int64  `json:"shipping"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

type paymentPayload struct {
	Method         string `json:"method"`
	Status         string `json:"status"`
	Provider       string `json:"provider,omitempty"`
	GatewayOrderID string `json:"gatewayOrderId,omitempty"`
	TransactionID  string `json:"transactionId,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaidAt         string `json:"paidAt,omitempty"`
}

type timelinePayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor,omitempty"`
}

type refundPayload struct {
	Amount          int64  `json:"amount"`
	Reason          string `json:"reason,omitempty"`
	Status          string `json:"status"`
	GatewayRefundID string `json:"gatewayRefundId,omitempty"`
	RequestedAt     string `json:"requestedAt"`
	ProcessedAt     string `json:"processedAt,omitempty"`
}

type trackingPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Pricing: pricingPayload{
			Subtotal: order.Pricing.Subtotal,
			Tax:      order.Pricing.Tax,
			Shipping: order.Pricing.Shipping,
			Discount: order.Pricing.Discount,
			Total:    order.Pricing.Total,
			Currency: order.Pricing.Currency,
		},
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		Payment: paymentPayload{
			Method:         string(order.Payment.Method),
			Status:         string(order.Payment.Status),
			Provider:       order.Payment.Provider,
			GatewayOrderID: order.Payment.GatewayOrderID,
			TransactionID:  order.Payment.TransactionID,
			Amount:         order.Payment.Amount,
			Currency:       order.Payment.Currency,
			PaidAt:         formatTimePtr(order.Payment.PaidAt),
		},
		Timeline:  make([]timelinePayload, 0, len(order.Timeline)),
		Notes:     order.Notes,
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}
	for _, entry := range order.Timeline {
		payload.Timeline = append(payload.Timeline, timelinePayload{
			Status:    entry.Status,
			Message:   entry.Message,
			Timestamp: formatTime(entry.Timestamp),
			Actor:     entry.Actor,
		})
	}
	if order.Refund != nil {
		payload.Refund = &refundPayload{
			Amount:          order.Refund.Amount,
			Reason:          order.Refund.Reason,
			Status:          string(order.Refund.Status),
			GatewayRefundID: order.Refund.GatewayRefundID,
			RequestedAt:     formatTime(order.Refund.RequestedAt),
			ProcessedAt:     formatTimePtr(order.Refund.ProcessedAt),
		}
	}
	if order.Tracking != nil {
		payload.Tracking = &trackingPayload{Carrier: order.Tracking.Carrier, TrackingNumber: order.Tracking.TrackingNumber}
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	return payload
}

func buildAddressPayload(addr *domain.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func (p *addressPayload) toDomain() *domain.Address {
	if p == nil {
		return nil
	}
	return &domain.Address{
		Recipient:  p.Recipient,
		Line1:      p.Line1,
		Line2:      p.Line2,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
		Phone:      p.Phone,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
