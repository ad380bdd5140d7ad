// Package cache provides the time-bounded result cache.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long a result stays fresh.
const DefaultTTL = 5 * time.Minute

// Key identifies one account/company lookup.
type Key struct {
	BOID      string
	CompanyID string
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Cache maps lookups to results with a fixed lifetime.
//
// Expired entries are only removed when a Get touches them. There is no size
// bound, so a long-running process keeps every entry that is never queried
// again after it expires.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[Key]entry[V]
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache whose entries live for ttl. A non-positive ttl uses DefaultTTL.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Key]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored value if it is younger than the TTL. A stale entry
// is deleted and reported as absent.
func (c *Cache[V]) Get(boid, companyID string) (V, bool) {
	k := Key{BOID: boid, CompanyID: companyID}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		delete(c.entries, k)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value, overwriting any previous entry and restarting its lifetime.
func (c *Cache[V]) Put(boid, companyID string, value V) {
	c.mu.Lock()
	c.entries[Key{BOID: boid, CompanyID: companyID}] = entry[V]{value: value, createdAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the entry lifetime.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}
