// Package cache is a bounded in-memory store whose entries expire after a fixed TTL.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/elonfeng/openchain/internal/metrics"
)

const (
	DefaultTTL      = time.Hour
	DefaultCapacity = 10000

	// evictFraction of entries is dropped when a Put finds the cache full.
	evictFraction = 0.2
)

type entry struct {
	value   any
	expires time.Time
}

// Cache maps keys to values for at most ttl. Safe for concurrent use.
//
// Lookups use Peek so that ordering stays insertion order and
// EvictOldest drops the entries that were written first.
type Cache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, entry]
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// New creates a cache. Non-positive arguments fall back to the defaults.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entries, _ := lru.NewWithEvict[string, entry](capacity, func(string, entry) {
		metrics.CacheEvictions.Inc()
	})
	return &Cache{
		entries:  entries,
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the live value for key. Expired entries are removed and reported as misses.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		metrics.IncCache(false)
		return nil, false
	}
	if !c.now().Before(e.expires) {
		c.entries.Remove(key)
		metrics.IncCache(false)
		return nil, false
	}
	metrics.IncCache(true)
	return e.value, true
}

// Put stores value under key. A full cache first drops its oldest fifth.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.entries.Contains(key) && c.entries.Len() >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries.Add(key, entry{value: value, expires: c.now().Add(c.ttl)})
}

// EvictOldest drops roughly 20% of the entries, oldest first, and returns how many went.
func (c *Cache) EvictOldest() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictOldestLocked()
}

func (c *Cache) evictOldestLocked() int {
	n := int(float64(c.entries.Len()) * evictFraction)
	if n < 1 && c.entries.Len() > 0 {
		n = 1
	}
	removed := 0
	for range n {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
		removed++
	}
	return removed
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && !now.Before(e.expires) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
