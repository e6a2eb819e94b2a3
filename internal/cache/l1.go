// Package cache implements the two-tier cache in front of the persistence
// layer: a bounded in-process LRU (L1) backed by an optional persisted
// store (L2). Cache operations never fail the caller; every tier or
// serialization problem degrades to a miss.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// l1Entry is one resident L1 entry. Values are stored serialized so that
// readers always get an independent copy.
type l1Entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// l1Cache is a bounded LRU with per-entry TTL. Capacity is counted in
// entries. Expired entries are dropped lazily on read and by the manager's
// janitor sweep.
type l1Cache struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	order    *list.List               // front = most recently used
	entries  map[string]*list.Element // key -> element in order
	hits     uint64
	misses   uint64
	evicted  uint64
}

func newL1Cache(maxSize int, ttl time.Duration) *l1Cache {
	return &l1Cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// get returns the cached bytes and refreshes recency. An expired entry is
// removed and counts as a miss.
func (c *l1Cache) get(key string, now time.Time) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*l1Entry)
	if now.After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// set inserts or replaces an entry, evicting the least recently used entry
// when at capacity.
func (c *l1Cache) set(key string, value []byte, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	expiresAt := now.Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*l1Entry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
			c.evicted++
		}
	}

	elem := c.order.PushFront(&l1Entry{key: key, value: value, expiresAt: expiresAt})
	c.entries[key] = elem
}

// delete removes one entry. Returns true when it was present.
func (c *l1Cache) delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// deleteMatching removes every entry whose key contains the pattern as a
// substring and returns the number removed.
func (c *l1Cache) deleteMatching(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.entries {
		if strings.Contains(key, pattern) {
			c.removeLocked(elem)
			removed++
		}
	}
	return removed
}

// sweep removes every expired entry and returns the number removed.
func (c *l1Cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, elem := range c.entries {
		if now.After(elem.Value.(*l1Entry).expiresAt) {
			c.removeLocked(elem)
			removed++
		}
	}
	return removed
}

// clear drops every entry.
func (c *l1Cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// len returns the number of resident entries, expired or not.
func (c *l1Cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// snapshot returns the hit/miss/eviction counters and current size.
func (c *l1Cache) snapshot() (hits, misses, evicted uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evicted, c.order.Len()
}

func (c *l1Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*l1Entry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}
