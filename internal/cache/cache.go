// Package cache is a small in-process TTL map for directory lookups and
// verified credentials.
package cache

import (
	"sync"
	"time"
)

// purgeEvery is the number of writes between sweeps of expired entries.
const purgeEvery = 256

type entry[V any] struct {
	val V
	exp time.Time
}

type Cache[K comparable, V any] struct {
	mu     sync.RWMutex
	data   map[K]entry[V]
	ttl    time.Duration
	writes int
	now    func() time.Time
}

func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{data: make(map[K]entry[V]), ttl: ttl, now: time.Now}
}

func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[k]
	if !ok || c.now().After(e.exp) {
		var zero V
		return zero, false
	}
	return e.val, true
}

// Put stores v for the cache's default TTL. A non-positive TTL disables
// caching.
func (c *Cache[K, V]) Put(k K, v V) {
	if c.ttl <= 0 {
		return
	}
	c.Set(k, v, c.now().Add(c.ttl))
}

// Set stores v until exp.
func (c *Cache[K, V]) Set(k K, v V, exp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[k] = entry[V]{val: v, exp: exp}
	c.writes++
	if c.writes >= purgeEvery {
		c.writes = 0
		c.purgeLocked()
	}
}

func (c *Cache[K, V]) Delete(k K) {
	c.mu.Lock()
	delete(c.data, k)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until the next sweep.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *Cache[K, V]) purgeLocked() {
	now := c.now()
	for k, e := range c.data {
		if now.After(e.exp) {
			delete(c.data, k)
		}
	}
}
