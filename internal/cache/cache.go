// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides a bounded in-memory LRU cache with per-entry TTL,
// used to short-circuit read-heavy API calls. A background fetch may touch
// a cache concurrently with a foreground read, so all operations are
// guarded by a mutex.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Defaults applied when Options fields are zero.
const (
	DefaultMaxSize = 100
	DefaultTTL     = 5 * time.Minute
)

// Options configures a Cache.
type Options struct {
	// MaxSize is the maximum number of entries (default 100).
	MaxSize int
	// TTL is the default time-to-live for entries (default 5 minutes).
	TTL time.Duration
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits    int
	Misses  int
	Size    int
	MaxSize int
}

// entry is a cached value with its expiry instant. Entries are owned
// exclusively by one Cache and never escape it.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache is a string-keyed LRU cache with TTL.
//
// The eviction list is kept in recency order: front is most recently used,
// back is the eviction candidate. A Get that hits moves the entry to the
// front; Set of an existing key re-inserts it at the front.
type Cache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List // of *entry[V]
	hits    int
	misses  int

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Cache with the given options.
func New[V any](opts Options) *Cache[V] {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Cache[V]{
		maxSize: opts.MaxSize,
		ttl:     opts.TTL,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the live value for key. A miss or an expired entry counts as
// a miss; expired entries are evicted as a side effect. A hit refreshes the
// entry's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL stores value under key with an explicit TTL. Replacing an existing
// key resets its LRU position. When the cache is full and key is new, the
// least recently used entry is evicted first.
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	e := &entry[V]{key: key, value: value, expiresAt: c.now().Add(ttl)}
	c.items[key] = c.order.PushFront(e)
}

// Has reports whether key holds a live value. Expired entries are deleted,
// but neither the hit/miss counters nor the recency order are touched.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	if c.now().After(el.Value.(*entry[V]).expiresAt) {
		c.removeElement(el)
		return false
	}
	return true
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear drops every entry and resets the hit/miss counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.hits = 0
	c.misses = 0
}

// Prune removes every expired entry, regardless of cache pressure, and
// returns the number removed.
func (c *Cache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry[V]).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// GetStats returns the current counters.
func (c *Cache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.order.Len(), MaxSize: c.maxSize}
}

// HitRate returns the hit percentage, 0 when the cache is untouched.
func (c *Cache[V]) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}

// Keys returns all live keys, most recently used first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	now := c.now()
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !now.After(e.expiresAt) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Len returns the number of entries, including any not yet pruned.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// removeElement drops an entry. Caller holds c.mu.
func (c *Cache[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
