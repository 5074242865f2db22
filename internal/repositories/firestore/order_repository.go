package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	Items           []orderItemDocument `firestore:"items"`
	Pricing         pricingDocument     `firestore:"pricing"`
	ShippingAddress *addressDocument    `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument    `firestore:"billingAddress,omitempty"`
	Payment         paymentDocument     `firestore:"payment"`
	Status          string              `firestore:"status"`
	Timeline        []timelineDocument  `firestore:"timeline"`
	Refund          *refundDocument     `firestore:"refund,omitempty"`
	Tracking        *trackingDocument   `firestore:"tracking,omitempty"`
	Notes           string              `firestore:"notes,omitempty"`
	CancelReason    *string             `firestore:"cancelReason,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	Revision        int64               `firestore:"revision"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name"`
	Quantity   int    `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPrice"`
	LineTotal  int64  `firestore:"lineTotal"`
}

type pricingDocument struct {
	Subtotal int64  `firestore:"subtotal"`
	Tax      int64  `firestore:"tax"`
	Shipping int64  `firestore:"shipping"`
	Discount int64  `firestore:"discount"`
	Total    int64  `firestore:"total"`
	Currency string `firestore:"currency"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type paymentDocument struct {
	Method         string     `firestore:"method"`
	Status         string     `firestore:"status"`
	Provider       string     `firestore:"provider,omitempty"`
	GatewayOrderID string     `firestore:"gatewayOrderId,omitempty"`
	TransactionID  string     `firestore:"transactionId,omitempty"`
	Amount         int64      `firestore:"amount"`
	Currency       string     `firestore:"currency"`
	PaidAt         *time.Time `firestore:"paidAt,omitempty"`
}

type timelineDocument struct {
	Status    string    `firestore:"status"`
	Message   string    `firestore:"message"`
	Timestamp time.Time `firestore:"timestamp"`
	Actor     string    `firestore:"actor"`
}

type refundDocument struct {
	Amount          int64      `firestore:"amount"`
	Reason          string     `firestore:"reason,omitempty"`
	Status          string     `firestore:"status"`
	GatewayRefundID string     `firestore:"gatewayRefundId,omitempty"`
	RequestedAt     time.Time  `firestore:"requestedAt"`
	ProcessedAt     *time.Time `firestore:"processedAt,omitempty"`
}

type trackingDocument struct {
	Carrier        string `firestore:"carrier"`
	TrackingNumber string `firestore:"trackingNumber"`
}

// OrderRepository stores one document per order in the orders collection. Updates are
// read-check-write transactions on the document's revision, so of two writers that
// loaded the same revision only the first commits.
type OrderRepository struct {
	base *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order store.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewCollection[orderDocument](provider, ordersCollection)}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, id, encodeOrder(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindOne returns the first order matching query, oldest first.
func (r *OrderRepository) FindOne(ctx context.Context, query repositories.OrderQuery) (domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyOrderQuery(q, query).OrderBy("createdAt", firestore.Asc).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFound("orders.findOne")
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

// List pages through orders newest first, keyed on (createdAt, document id).
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, status := range filter.Statuses {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

func (r *OrderRepository) UpdateFields(ctx context.Context, orderID string, patch repositories.OrderPatch) error {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	updates := orderUpdates(patch)
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt.UTC()})
	return r.base.Mutate(ctx, strings.TrimSpace(orderID), func(current pfirestore.Document[orderDocument]) ([]firestore.Update, error) {
		if current.Data.Revision != patch.Revision {
			return nil, pfirestore.Conflict("orders.update",
				fmt.Errorf("order %s changed: revision %d, patch built on %d", current.ID, current.Data.Revision, patch.Revision))
		}
		out := append(slices.Clip(updates), firestore.Update{Path: "revision", Value: current.Data.Revision + 1})
		if len(patch.AppendTimeline) > 0 {
			// Written whole rather than with ArrayUnion, which would fold identical entries.
			timeline := slices.Clone(current.Data.Timeline)
			for _, entry := range patch.AppendTimeline {
				timeline = append(timeline, encodeTimelineEntry(entry))
			}
			out = append(out, firestore.Update{Path: "timeline", Value: timeline})
		}
		return out, nil
	})
}

func orderUpdates(patch repositories.OrderPatch) []firestore.Update {
	var updates []firestore.Update
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*patch.Status)})
	}
	if patch.Pricing != nil {
		updates = append(updates, firestore.Update{Path: "pricing", Value: encodePricing(*patch.Pricing)})
	}
	if patch.Payment != nil {
		updates = append(updates, firestore.Update{Path: "payment", Value: encodePayment(*patch.Payment)})
	}
	if patch.Refund != nil {
		updates = append(updates, firestore.Update{Path: "refund", Value: encodeRefund(patch.Refund)})
	}
	if patch.ShippingAddress != nil {
		updates = append(updates, firestore.Update{Path: "shippingAddress", Value: encodeAddress(patch.ShippingAddress)})
	}
	if patch.BillingAddress != nil {
		updates = append(updates, firestore.Update{Path: "billingAddress", Value: encodeAddress(patch.BillingAddress)})
	}
	if patch.Tracking != nil {
		updates = append(updates, firestore.Update{Path: "tracking", Value: trackingDocument{
			Carrier:        patch.Tracking.Carrier,
			TrackingNumber: patch.Tracking.TrackingNumber,
		}})
	}
	if patch.Notes != nil {
		updates = append(updates, firestore.Update{Path: "notes", Value: *patch.Notes})
	}
	if patch.CancelReason != nil {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: *patch.CancelReason})
	}
	return updates
}

func (r *OrderRepository) Count(ctx context.Context, query repositories.OrderQuery) (int64, error) {
	return r.base.Count(ctx, func(q firestore.Query) firestore.Query {
		return applyOrderQuery(q, query)
	})
}

var (
	aggregatedStatuses = []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
		domain.OrderStatusReturned,
	}
	settledPaymentStatuses = []string{
		string(domain.PaymentStatusPaid),
		string(domain.PaymentStatusPartiallyRefunded),
		string(domain.PaymentStatusRefunded),
	}
)

// Aggregate runs server-side count and sum aggregations; no order documents are read.
func (r *OrderRepository) Aggregate(ctx context.Context, filter repositories.OrderAggregateFilter) (repositories.OrderAggregate, error) {
	window := func(q firestore.Query) firestore.Query {
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		return q
	}

	out := repositories.OrderAggregate{ByStatus: make(map[domain.OrderStatus]int64, len(aggregatedStatuses))}
	total, err := r.base.Count(ctx, window)
	if err != nil {
		return repositories.OrderAggregate{}, err
	}
	out.TotalOrders = total

	for _, status := range aggregatedStatuses {
		status := status
		count, err := r.base.Count(ctx, func(q firestore.Query) firestore.Query {
			return window(q).Where("status", "==", string(status))
		})
		if err != nil {
			return repositories.OrderAggregate{}, err
		}
		if count > 0 {
			out.ByStatus[status] = count
		}
	}

	out.PaidRevenue, err = r.base.Sum(ctx, func(q firestore.Query) firestore.Query {
		return window(q).Where("payment.status", "in", settledPaymentStatuses)
	}, "pricing.total")
	if err != nil {
		return repositories.OrderAggregate{}, err
	}
	out.RefundedAmount, err = r.base.Sum(ctx, func(q firestore.Query) firestore.Query {
		return window(q).Where("refund.status", "==", string(domain.RefundStatusCompleted))
	}, "refund.amount")
	if err != nil {
		return repositories.OrderAggregate{}, err
	}
	return out, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(orderID))
}

func applyOrderQuery(q firestore.Query, query repositories.OrderQuery) firestore.Query {
	if v := strings.TrimSpace(query.UserID); v != "" {
		q = q.Where("userId", "==", v)
	}
	if query.Status != "" {
		q = q.Where("status", "==", string(query.Status))
	}
	if v := strings.TrimSpace(query.TransactionID); v != "" {
		q = q.Where("payment.transactionId", "==", v)
	}
	if v := strings.TrimSpace(query.GatewayOrderID); v != "" {
		q = q.Where("payment.gatewayOrderId", "==", v)
	}
	return q
}

type notFoundError struct{ op string }

func (e notFoundError) Error() string       { return e.op + ": not found" }
func (e notFoundError) IsNotFound() bool    { return true }
func (e notFoundError) IsConflict() bool    { return false }
func (e notFoundError) IsUnavailable() bool { return false }

func notFound(op string) error { return notFoundError{op: op} }
