package services

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/storefront/api/internal/repositories"
)

var orderNumberPattern = regexp.MustCompile(`^AMZ-\d+-\d{6}$`)

type countingStore struct {
	count int64
	err   error
}

func (c *countingStore) Count(context.Context, repositories.OrderQuery) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.count, nil
}

func TestOrderNumbersAreDistinctAndWellFormed(t *testing.T) {
	store := &countingStore{}
	clock := testNow
	gen := NewOrderNumberGenerator(store, "", func() time.Time { return clock }, nil)

	seen := make(map[string]struct{})
	for i := 0; i < 25; i++ {
		number := gen.Next(context.Background())
		if !orderNumberPattern.MatchString(number) {
			t.Fatalf("order number %q does not match pattern", number)
		}
		if _, dup := seen[number]; dup {
			t.Fatalf("duplicate order number %q", number)
		}
		seen[number] = struct{}{}
		store.count++
	}
}

func TestOrderNumberSequenceUsesCount(t *testing.T) {
	gen := NewOrderNumberGenerator(&countingStore{count: 41}, "amz", fixedClock, nil)
	want := "AMZ-" + strconv.FormatInt(testNow.UnixMilli(), 10) + "-000042"
	if got := gen.Next(context.Background()); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestOrderNumberFallsBackWhenCountFails(t *testing.T) {
	logger := &recordingLogger{}
	gen := NewOrderNumberGenerator(&countingStore{err: errors.New("store offline")}, "", fixedClock, logger.log)
	gen.random = func() int { return 7 }

	got := gen.Next(context.Background())
	if want := "AMZ-" + strconv.FormatInt(testNow.UnixMilli(), 10) + "-000007"; got != want {
		t.Fatalf("expected fallback %s, got %s", want, got)
	}
	if !logger.has("order.number.fallback") {
		t.Fatalf("expected fallback to be logged")
	}
}
