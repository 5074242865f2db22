package payments

import (
	"errors"
	"testing"
)

func TestParseWebhookEventCaptured(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"pi_1","amount":3200,"currency":"usd","status":"captured"}}}}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Event != EventPaymentCaptured || event.Payment.ID != "pay_1" || event.Payment.OrderID != "pi_1" {
		t.Fatalf("unexpected event %#v", event)
	}
	if event.Payment.Amount == nil || *event.Payment.Amount != 3200 || event.Payment.Currency != "USD" {
		t.Fatalf("unexpected amount %#v", event.Payment)
	}
}

func TestParseWebhookEventOtherEventsWithoutEntity(t *testing.T) {
	event, err := ParseWebhookEvent([]byte(`{"event":"order.paid","payload":{}}`))
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.HasEntry || event.Event != "order.paid" {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestParseWebhookEventRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"payload":{}}`,
		`{"event":"payment.captured","payload":{"payment":{"entity":{"amount":1}}}}`,
	}
	for _, body := range cases {
		if _, err := ParseWebhookEvent([]byte(body)); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("body %s: expected ErrInvalidRequest, got %v", body, err)
		}
	}
}
