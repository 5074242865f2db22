package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests override it to control expiry.
type Clock func() time.Time

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTLCache is a concurrency-safe in-process cache whose entries expire after a fixed TTL.
// A zero or negative TTL disables caching: Get always misses.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   Clock
	entries map[K]entry[V]
}

// Option customises a TTLCache.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewTTLCache constructs an empty cache with the provided TTL.
func NewTTLCache[K comparable, V any](ttl time.Duration, opts ...Option) *TTLCache[K, V] {
	cfg := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &TTLCache[K, V]{
		ttl:     ttl,
		clock:   cfg.clock,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the cached value when present and younger than the TTL.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil || c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	item, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.clock().Sub(item.storedAt) >= c.ttl {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.storedAt.Equal(item.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

// Set stores value under key, stamping it with the current time.
func (c *TTLCache[K, V]) Set(key K, value V) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, storedAt: c.clock()}
	c.mu.Unlock()
}

// Delete evicts key.
func (c *TTLCache[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeleteFunc evicts every entry whose key matches.
func (c *TTLCache[K, V]) DeleteFunc(match func(K) bool) {
	if c == nil || match == nil {
		return
	}
	c.mu.Lock()
	for key := range c.entries {
		if match(key) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len reports the number of stored entries, including ones that expired but were not read since.
func (c *TTLCache[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the configured lifetime.
func (c *TTLCache[K, V]) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}
