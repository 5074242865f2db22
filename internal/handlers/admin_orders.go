package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const (
	maxAdminStatusBodySize = 4 * 1024
	maxAdminEditBodySize   = 32 * 1024
	maxAdminRefundBodySize = 4 * 1024
)

type adminStatusRequest struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type adminEditRequest struct {
	Edits []adminEditEntry `json:"edits"`
}

// adminEditEntry is one tagged edit: {"type": "<kind>", "value": {...}}.
type adminEditEntry struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type trackingEditValue struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
}

type notesEditValue struct {
	Notes string `json:"notes"`
}

type pricingEditValue struct {
	Tax      *int64 `json:"tax"`
	Shipping *int64 `json:"shipping"`
	Discount *int64 `json:"discount"`
}

// adminRefundRequest carries the amount as a decimal string in major units of the order currency.
type adminRefundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

type orderStatsResponse struct {
	TotalOrders    int64            `json:"totalOrders"`
	ByStatus       map[string]int64 `json:"byStatus"`
	PaidRevenue    int64            `json:"paidRevenue"`
	RefundedAmount int64            `json:"refundedAmount"`
	GeneratedAt    string           `json:"generatedAt"`
}

// AdminOrderHandlers exposes operator endpoints for order management and refunds.
type AdminOrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	refunds    services.RefundService
	idempotent func(http.Handler) http.Handler
}

// NewAdminOrderHandlers constructs AdminOrderHandlers. idempotent wraps the refund route and may be nil.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, refunds services.RefundService, idempotent func(http.Handler) http.Handler) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders, refunds: refunds, idempotent: idempotent}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		rt.Get("/", h.listOrders)
		rt.Get("/stats", h.stats)
		rt.Get("/{orderID}", h.getOrder)
		rt.Patch("/{orderID}", h.editOrder)
		rt.Delete("/{orderID}", h.deleteOrder)
		rt.Put("/{orderID}/status", h.transitionStatus)
		rt.Post("/{orderID}/status:override", h.overrideStatus)
		rt.Post("/{orderID}:cancel", h.cancelOrder)
		rt.With(optional(h.idempotent)...).Post("/{orderID}:refund", h.refundOrder)
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page))
}

func (h *AdminOrderHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	stats, err := h.orders.Stats(ctx, services.OrderStatsQuery{DateRange: filter.DateRange})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	resp := orderStatsResponse{
		TotalOrders:    stats.TotalOrders,
		ByStatus:       make(map[string]int64, len(stats.ByStatus)),
		PaidRevenue:    stats.PaidRevenue,
		RefundedAmount: stats.RefundedAmount,
		GeneratedAt:    formatTime(stats.GeneratedAt),
	}
	for status, count := range stats.ByStatus {
		resp.ByStatus[string(status)] = count
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, false)
}

func (h *AdminOrderHandlers) overrideStatus(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, true)
}

func (h *AdminOrderHandlers) changeStatus(w http.ResponseWriter, r *http.Request, override bool) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req adminStatusRequest
	if err := httpx.DecodeJSON(r, maxAdminStatusBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	status, valid := domain.ParseOrderStatus(req.Status)
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status "+req.Status, http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  status,
		Message: req.Message,
		ActorID: identity.UID,
	}
	var (
		order services.Order
		err   error
	)
	if override {
		order, err = h.orders.OverrideStatus(ctx, cmd)
	} else {
		order, err = h.orders.TransitionStatus(ctx, cmd)
	}
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderCancelBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
		IsAdmin: true,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) editOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req adminEditRequest
	if err := httpx.DecodeJSON(r, maxAdminEditBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	edits, err := decodeOrderEdits(req.Edits)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_edit", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.ApplyEdits(ctx, services.EditOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Edits:   edits,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.refunds == nil {
		writeUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req adminRefundRequest
	if err := httpx.DecodeJSON(r, maxAdminRefundBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	cmd := services.CreateRefundCommand{OrderID: orderID, Reason: req.Reason, ActorID: identity.UID}
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		// The decimal amount is scaled by the order currency, so the order is read first.
		order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		amount, err := domain.ParseAmount(raw, order.Pricing.Currency)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		cmd.Amount = &amount
	}

	order, err := h.refunds.CreateRefund(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	if err := h.orders.DeleteOrder(ctx, chi.URLParam(r, "orderID")); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeOrderEdits turns tagged entries into the closed set of service edits.
// Unknown tags and unknown value fields are rejected.
func decodeOrderEdits(entries []adminEditEntry) ([]services.OrderEdit, error) {
	if len(entries) == 0 {
		return nil, errors.New("edits must not be empty")
	}
	edits := make([]services.OrderEdit, 0, len(entries))
	for i, entry := range entries {
		var edit services.OrderEdit
		switch strings.TrimSpace(entry.Type) {
		case "shippingAddress", "billingAddress":
			var value addressPayload
			if err := decodeStrict(entry.Value, &value); err != nil {
				return nil, fmt.Errorf("edits[%d]: %w", i, err)
			}
			if entry.Type == "shippingAddress" {
				edit = services.ShippingAddressEdit{Address: *value.toDomain()}
			} else {
				edit = services.BillingAddressEdit{Address: *value.toDomain()}
			}
		case "tracking":
			var value trackingEditValue
			if err := decodeStrict(entry.Value, &value); err != nil {
				return nil, fmt.Errorf("edits[%d]: %w", i, err)
			}
			edit = services.TrackingEdit{Carrier: value.Carrier, TrackingNumber: value.TrackingNumber}
		case "notes":
			var value notesEditValue
			if err := decodeStrict(entry.Value, &value); err != nil {
				return nil, fmt.Errorf("edits[%d]: %w", i, err)
			}
			edit = services.NotesEdit{Notes: value.Notes}
		case "pricing":
			var value pricingEditValue
			if err := decodeStrict(entry.Value, &value); err != nil {
				return nil, fmt.Errorf("edits[%d]: %w", i, err)
			}
			edit = services.PricingAdjustmentEdit{Tax: value.Tax, Shipping: value.Shipping, Discount: value.Discount}
		default:
			return nil, fmt.Errorf("edits[%d]: unsupported edit type %q", i, entry.Type)
		}
		edits = append(edits, edit)
	}
	return edits, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("value is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	return nil
}
