package domain

import "time"

// Pagination carries the page size and opaque cursor for list calls.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery bounds a filter on both ends. A nil bound is open.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// WithinTime reports whether ts falls inside the window, bounds inclusive.
func WithinTime(window RangeQuery[time.Time], ts time.Time) bool {
	if window.From != nil && ts.Before(*window.From) {
		return false
	}
	if window.To != nil && ts.After(*window.To) {
		return false
	}
	return true
}

// CursorPage is one page of results plus the token for the next one. An empty
// token means the listing is exhausted.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
