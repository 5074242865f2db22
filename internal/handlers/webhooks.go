package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const (
	defaultWebhookSignatureHeader = "X-Gateway-Signature"
	maxWebhookBodySize            = 256 * 1024
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Applied  bool   `json:"applied"`
	Event    string `json:"event,omitempty"`
}

// WebhookHandlers receives server-to-server gateway notifications.
type WebhookHandlers struct {
	payments        services.PaymentService
	signatureHeader string
}

// NewWebhookHandlers constructs WebhookHandlers. An empty header name uses X-Gateway-Signature.
func NewWebhookHandlers(payments services.PaymentService, signatureHeader string) *WebhookHandlers {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		header = defaultWebhookSignatureHeader
	}
	return &WebhookHandlers{payments: payments, signatureHeader: header}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/gateway", h.paymentGateway)
}

func (h *WebhookHandlers) paymentGateway(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}

	// The signature covers the exact bytes the gateway sent.
	body, err := httpx.ReadBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	signature := strings.TrimSpace(r.Header.Get(h.signatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", h.signatureHeader+" header is required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.ApplyWebhook(ctx, services.WebhookCommand{Body: body, Signature: signature})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Applied: result.Applied, Event: result.Event})
}
