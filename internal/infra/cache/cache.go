// Package cache provides an in-memory key/value cache with per-entry expiry.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a concurrency-safe cache whose entries expire after a time-to-live.
// Expired entries are dropped lazily on lookup or by Purge.
type TTLCache[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]entry[V]
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a cache whose entries live for defaultTTL unless Set says otherwise.
func New[K comparable, V any](defaultTTL time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries:    make(map[K]entry[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. A ttl of zero or less uses the default.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops every expired entry and returns how many were removed.
func (c *TTLCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
