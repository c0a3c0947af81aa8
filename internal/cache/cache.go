// Package cache provides a bounded TTL cache used by the identity mapper.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// TTLCache is a bounded, TTL-based cache. Entries past their TTL are
// treated as absent; when the bound is reached the oldest entry is
// evicted. Safe for concurrent use.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[K]*list.Element
	order   *list.List // front = oldest
	now     func() time.Time
}

// New creates a cache holding at most maxSize entries for at most ttl.
func New[K comparable, V any](ttl time.Duration, maxSize int) *TTLCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &TTLCache[K, V]{
		ttl:     ttl,
		maxSize: maxSize,
		items:   make(map[K]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached value and whether it was present and fresh.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	if c.now().Sub(ent.insertedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return zero, false
	}
	return ent.value, true
}

// Set inserts or refreshes a value.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.insertedAt = c.now()
		c.order.MoveToBack(el)
		return
	}
	for len(c.items) >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[K, V]).key)
	}
	el := c.order.PushBack(&entry[K, V]{key: key, value: value, insertedAt: c.now()})
	c.items[key] = el
}

// Delete removes a key if present.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len returns the number of stored entries, including expired ones not
// yet swept.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// SweepExpired drops all entries past their TTL and returns how many
// were removed.
func (c *TTLCache[K, V]) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		ent := el.Value.(*entry[K, V])
		if c.now().Sub(ent.insertedAt) >= c.ttl {
			c.order.Remove(el)
			delete(c.items, ent.key)
			removed++
		}
		el = next
	}
	return removed
}
