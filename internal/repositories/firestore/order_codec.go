package firestore

import "github.com/storefront/api/internal/domain"

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Items:           make([]orderItemDocument, 0, len(order.Items)),
		Pricing:         encodePricing(order.Pricing),
		ShippingAddress: encodeAddress(order.ShippingAddress),
		BillingAddress:  encodeAddress(order.BillingAddress),
		Payment:         encodePayment(order.Payment),
		Status:          string(order.Status),
		Timeline:        make([]timelineDocument, 0, len(order.Timeline)),
		Refund:          encodeRefund(order.Refund),
		Notes:           order.Notes,
		CancelReason:    order.CancelReason,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		Revision:        order.Revision,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	for _, entry := range order.Timeline {
		doc.Timeline = append(doc.Timeline, encodeTimelineEntry(entry))
	}
	if order.Tracking != nil {
		doc.Tracking = &trackingDocument{Carrier: order.Tracking.Carrier, TrackingNumber: order.Tracking.TrackingNumber}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		Items:           make([]domain.OrderItem, 0, len(doc.Items)),
		Pricing:         domain.OrderPricing(doc.Pricing),
		ShippingAddress: decodeAddress(doc.ShippingAddress),
		BillingAddress:  decodeAddress(doc.BillingAddress),
		Payment: domain.OrderPayment{
			Method:         domain.PaymentMethod(doc.Payment.Method),
			Status:         domain.PaymentStatus(doc.Payment.Status),
			Provider:       doc.Payment.Provider,
			GatewayOrderID: doc.Payment.GatewayOrderID,
			TransactionID:  doc.Payment.TransactionID,
			Amount:         doc.Payment.Amount,
			Currency:       doc.Payment.Currency,
			PaidAt:         doc.Payment.PaidAt,
		},
		Status:       domain.OrderStatus(doc.Status),
		Timeline:     make([]domain.TimelineEntry, 0, len(doc.Timeline)),
		Notes:        doc.Notes,
		CancelReason: doc.CancelReason,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		Revision:     doc.Revision,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	for _, entry := range doc.Timeline {
		order.Timeline = append(order.Timeline, domain.TimelineEntry(entry))
	}
	if doc.Refund != nil {
		order.Refund = &domain.OrderRefund{
			Amount:          doc.Refund.Amount,
			Reason:          doc.Refund.Reason,
			Status:          domain.RefundStatus(doc.Refund.Status),
			GatewayRefundID: doc.Refund.GatewayRefundID,
			RequestedAt:     doc.Refund.RequestedAt,
			ProcessedAt:     doc.Refund.ProcessedAt,
		}
	}
	if doc.Tracking != nil {
		order.Tracking = &domain.ShipmentTracking{Carrier: doc.Tracking.Carrier, TrackingNumber: doc.Tracking.TrackingNumber}
	}
	return order
}

func encodePricing(p domain.OrderPricing) pricingDocument {
	return pricingDocument(p)
}

func encodePayment(p domain.OrderPayment) paymentDocument {
	return paymentDocument{
		Method:         string(p.Method),
		Status:         string(p.Status),
		Provider:       p.Provider,
		GatewayOrderID: p.GatewayOrderID,
		TransactionID:  p.TransactionID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		PaidAt:         p.PaidAt,
	}
}

func encodeRefund(r *domain.OrderRefund) *refundDocument {
	if r == nil {
		return nil
	}
	return &refundDocument{
		Amount:          r.Amount,
		Reason:          r.Reason,
		Status:          string(r.Status),
		GatewayRefundID: r.GatewayRefundID,
		RequestedAt:     r.RequestedAt.UTC(),
		ProcessedAt:     r.ProcessedAt,
	}
}

func encodeTimelineEntry(entry domain.TimelineEntry) timelineDocument {
	return timelineDocument{Status: entry.Status, Message: entry.Message, Timestamp: entry.Timestamp.UTC(), Actor: entry.Actor}
}

func encodeAddress(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	doc := addressDocument(*addr)
	return &doc
}

func decodeAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	addr := domain.Address(*doc)
	return &addr
}
