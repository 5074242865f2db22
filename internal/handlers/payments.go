package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxPaymentConfirmBodySize = 8 * 1024

type confirmPaymentRequest struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// PaymentHandlers exposes the client-side payment confirmation endpoint.
type PaymentHandlers struct {
	authn      *auth.Authenticator
	payments   services.PaymentService
	idempotent func(http.Handler) http.Handler
}

// NewPaymentHandlers constructs PaymentHandlers. idempotent may be nil.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, idempotent func(http.Handler) http.Handler) *PaymentHandlers {
	return &PaymentHandlers{authn: authn, payments: payments, idempotent: idempotent}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleCustomer, auth.RoleAdmin))
	}
	r.With(optional(h.idempotent)...).Post("/confirm", h.confirmPayment)
}

func (h *PaymentHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if err := httpx.DecodeJSON(r, maxPaymentConfirmBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:          req.OrderID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		UserID:           identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}
