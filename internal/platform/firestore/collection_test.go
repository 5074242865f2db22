package firestore

import (
	"context"
	"testing"

	"cloud.google.com/go/firestore/apiv1/firestorepb"

	"github.com/storefront/api/internal/platform/config"
)

func TestAggregateInt(t *testing.T) {
	cases := map[string]struct {
		in   any
		want int64
	}{
		"integer proto": {in: &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: 2250}}, want: 2250},
		"double proto":  {in: &firestorepb.Value{ValueType: &firestorepb.Value_DoubleValue{DoubleValue: 99.9}}, want: 99},
		"native int":    {in: int64(7), want: 7},
		"missing":       {in: nil, want: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := aggregateInt(tc.in); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestCollectionRejectsBlankID(t *testing.T) {
	c := NewCollection[struct{}](NewProvider(config.FirestoreConfig{ProjectID: "orders-test"}), "orders")
	if _, err := c.Get(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank document id")
	}
	var unset *Collection[struct{}]
	if _, err := unset.Query(context.Background(), nil); err == nil {
		t.Fatalf("expected error for unconfigured collection")
	}
}
