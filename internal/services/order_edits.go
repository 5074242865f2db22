package services

import (
	"fmt"
	"slices"
	"strings"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const maxNotesLength = 1000

// OrderEdit is one allow-listed admin change. Each edit validates itself and writes only
// its own fields into the patch.
type OrderEdit interface {
	Kind() string
	apply(order *Order, patch *repositories.OrderPatch) error
}

// ShippingAddressEdit replaces the shipping address.
type ShippingAddressEdit struct{ Address Address }

// BillingAddressEdit replaces the billing address.
type BillingAddressEdit struct{ Address Address }

// TrackingEdit records the carrier reference.
type TrackingEdit struct {
	Carrier        string
	TrackingNumber string
}

// NotesEdit replaces the internal notes.
type NotesEdit struct{ Notes string }

// PricingAdjustmentEdit overrides tax, shipping or discount. Nil fields keep their value.
type PricingAdjustmentEdit struct {
	Tax      *int64
	Shipping *int64
	Discount *int64
}

func (ShippingAddressEdit) Kind() string   { return "shippingAddress" }
func (BillingAddressEdit) Kind() string    { return "billingAddress" }
func (TrackingEdit) Kind() string          { return "tracking" }
func (NotesEdit) Kind() string             { return "notes" }
func (PricingAdjustmentEdit) Kind() string { return "pricing" }

func (e ShippingAddressEdit) apply(order *Order, patch *repositories.OrderPatch) error {
	addr, err := normalizeAddress(e.Address)
	if err != nil {
		return err
	}
	order.ShippingAddress = &addr
	patch.ShippingAddress = &addr
	return nil
}

func (e BillingAddressEdit) apply(order *Order, patch *repositories.OrderPatch) error {
	addr, err := normalizeAddress(e.Address)
	if err != nil {
		return err
	}
	order.BillingAddress = &addr
	patch.BillingAddress = &addr
	return nil
}

func (e TrackingEdit) apply(order *Order, patch *repositories.OrderPatch) error {
	tracking := domain.ShipmentTracking{
		Carrier:        textutil.PlainText(e.Carrier, 64),
		TrackingNumber: strings.TrimSpace(e.TrackingNumber),
	}
	if tracking.Carrier == "" || tracking.TrackingNumber == "" {
		return fmt.Errorf("%w: carrier and tracking number are required", ErrOrderInvalidInput)
	}
	order.Tracking = &tracking
	patch.Tracking = &tracking
	return nil
}

func (e NotesEdit) apply(order *Order, patch *repositories.OrderPatch) error {
	notes := textutil.PlainText(e.Notes, maxNotesLength)
	order.Notes = notes
	patch.Notes = &notes
	return nil
}

// apply is allowed only while nothing has been paid, since the payable amount changes.
func (e PricingAdjustmentEdit) apply(order *Order, patch *repositories.OrderPatch) error {
	if order.Status != domain.OrderStatusPending || order.Payment.Status != domain.PaymentStatusPending {
		return fmt.Errorf("%w: pricing can only be adjusted on pending unpaid orders", ErrOrderInvalidState)
	}
	if e.Tax == nil && e.Shipping == nil && e.Discount == nil {
		return fmt.Errorf("%w: pricing adjustment has no fields", ErrOrderInvalidInput)
	}
	for name, value := range map[string]*int64{"tax": e.Tax, "shipping": e.Shipping, "discount": e.Discount} {
		if value != nil && *value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrOrderInvalidInput, name)
		}
	}
	adjusted := *order
	if e.Tax != nil {
		adjusted.Pricing.Tax = *e.Tax
	}
	if e.Shipping != nil {
		adjusted.Pricing.Shipping = *e.Shipping
	}
	if e.Discount != nil {
		adjusted.Pricing.Discount = *e.Discount
	}
	adjusted.Items = append([]domain.OrderItem(nil), order.Items...)
	ComputeTotals(&adjusted)
	if adjusted.Pricing.Total <= 0 {
		return fmt.Errorf("%w: adjusted total must be positive", ErrOrderInvalidInput)
	}

	order.Pricing = adjusted.Pricing
	order.Payment.Amount = adjusted.Pricing.Total
	pricing := order.Pricing
	payment := order.Payment
	patch.Pricing = &pricing
	patch.Payment = &payment
	return nil
}

func normalizeAddress(addr Address) (Address, error) {
	out := Address{
		Recipient:  textutil.PlainText(addr.Recipient, 200),
		Line1:      textutil.PlainText(addr.Line1, 200),
		City:       textutil.PlainText(addr.City, 100),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Line2:      optionalText(addr.Line2, 200),
		State:      optionalText(addr.State, 100),
		Phone:      optionalText(addr.Phone, 40),
	}
	var missing []string
	for field, value := range map[string]string{
		"recipient":  out.Recipient,
		"line1":      out.Line1,
		"city":       out.City,
		"postalCode": out.PostalCode,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return Address{}, fmt.Errorf("%w: address missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	if len(out.Country) != 2 {
		return Address{}, fmt.Errorf("%w: address country must be an ISO 3166 alpha-2 code", ErrOrderInvalidInput)
	}
	return out, nil
}

func optionalText(value *string, limit int) *string {
	if value == nil {
		return nil
	}
	text := textutil.PlainText(*value, limit)
	if text == "" {
		return nil
	}
	return &text
}
