package payments

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Webhook event names the reconciliation engine recognises.
const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPaymentAuthorized = "payment.authorized"
)

// WebhookEvent is the normalised gateway notification.
type WebhookEvent struct {
	Event    string
	Payment  WebhookPayment
	HasEntry bool
}

// WebhookPayment is the payment entity carried by an event.
type WebhookPayment struct {
	ID       string
	OrderID  string
	Amount   *int64
	Currency string
	Status   string
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity *struct {
				ID       string `json:"id"`
				OrderID  string `json:"order_id"`
				Amount   *int64 `json:"amount"`
				Currency string `json:"currency"`
				Status   string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhookEvent decodes a raw webhook body. The event name is required; a
// payment.captured event must also carry a payment entity id.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: malformed webhook body: %v", ErrInvalidRequest, err)
	}
	event := WebhookEvent{Event: strings.TrimSpace(envelope.Event)}
	if event.Event == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook event name is required", ErrInvalidRequest)
	}
	if envelope.Payload.Payment != nil && envelope.Payload.Payment.Entity != nil {
		entity := envelope.Payload.Payment.Entity
		event.HasEntry = true
		event.Payment = WebhookPayment{
			ID:       strings.TrimSpace(entity.ID),
			OrderID:  strings.TrimSpace(entity.OrderID),
			Amount:   entity.Amount,
			Currency: strings.ToUpper(strings.TrimSpace(entity.Currency)),
			Status:   strings.TrimSpace(entity.Status),
		}
	}
	if event.Event == EventPaymentCaptured && event.Payment.ID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: captured event without payment id", ErrInvalidRequest)
	}
	return event, nil
}
