// Package cache provides a bounded in-memory memoization cache with FIFO
// eviction. It is shared by the analyzer, retriever, and report composer to
// skip repeated model and vector-store calls; entries are opaque values
// keyed by strings the callers derive themselves.
package cache

import (
	"sync"

	"github.com/guchanghao1/zhianjian-system/internal/metrics"
)

// Cache is a fixed-capacity key/value store. When full, Set evicts the
// entry that was inserted earliest among those still present; access
// recency never changes eviction order. Setting an existing key overwrites
// its value but keeps its original position in the eviction queue.
//
// Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]any
	order      []string // insertion order, oldest first
}

// DefaultMaxEntries bounds the cache when no explicit size is configured.
const DefaultMaxEntries = 1000

// New creates a Cache holding at most maxEntries entries. Non-positive
// sizes fall back to DefaultMaxEntries.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		entries:    make(map[string]any, maxEntries),
	}
}

// Get returns the value stored under key and whether it was present.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	if ok {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
	}
	return v, ok
}

// Set stores value under key, evicting the oldest entry first if the cache
// is full and key is not already present.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		// Overwrite in place; eviction order is immutable once set.
		c.entries[key] = value
		return
	}

	if len(c.entries) >= c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		metrics.CacheEvictions.Inc()
	}

	c.entries[key] = value
	c.order = append(c.order, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]any, c.maxEntries)
	c.order = nil
}

// Size returns the current number of entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Keys returns the cached keys in insertion order, oldest first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}
