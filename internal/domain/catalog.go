package domain

import "time"

// Address is the postal destination snapshotted onto an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// ProductPrice is what the catalog quoted for a product when the order was placed.
type ProductPrice struct {
	ProductRef string
	Name       string
	UnitPrice  int64
	Currency   string
	Active     bool
}

// FXRates maps ISO currency codes to their rate against Base.
type FXRates struct {
	Base      string
	Rates     map[string]float64
	FetchedAt time.Time
}
