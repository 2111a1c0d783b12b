// Package cache provides a small TTL+LRU result cache for report queries.
//
// Keys incorporate a store-version string supplied by the caller, so a
// replaced store file implicitly invalidates every entry computed against
// the old data without any explicit flush.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/ohler55/ojg/oj"
)

// ComputeFunc produces the value to cache on a miss.
type ComputeFunc func() (any, error)

type entry struct {
	value    any
	storedAt time.Time
}

// Cache is a mutex-guarded TTL cache with LRU eviction. Compute functions
// run outside the lock, so a slow query never blocks unrelated lookups;
// the cost is that two concurrent misses on the same key may both compute.
type Cache struct {
	ttl     time.Duration
	maxSize int
	version func() string
	log     *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
	order   []string // access order, oldest first

	hits   int64
	misses int64

	now func() time.Time
}

// New builds a Cache. version supplies the current store-version string
// and is consulted on every lookup.
func New(ttl time.Duration, maxSize int, version func() string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if version == nil {
		version = func() string { return "" }
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		version: version,
		log:     log,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Key derives the cache key for a named operation and its arguments. The
// args are serialized deterministically (sorted object keys) so logically
// equal calls share a key regardless of map iteration order.
func (c *Cache) Key(name string, args any) string {
	payload := name + "|" + oj.JSON(args, &oj.Options{Sort: true}) + "|" + c.version()
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Cached returns the cached value for (name, args) or computes, stores and
// returns it. Errors from compute are returned as-is and never cached.
func (c *Cache) Cached(name string, args any, compute ComputeFunc) (any, error) {
	key := c.Key(name, args)

	if v, ok := c.get(key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		return nil, err
	}
	c.put(key, v)
	return v, nil
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses++
		return nil, false
	}
	c.touch(key)
	c.hits++
	return e.value, true
}

func (c *Cache) put(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry{value: v, storedAt: c.now()}
	c.touch(key)
}

func (c *Cache) touch(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
	c.log.Debug("cache: evicted LRU entry", "key", oldest[:12])
}

// Clear drops every entry. Hit/miss counters survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.order = nil
}

// Stats is a point-in-time snapshot of cache state.
type Stats struct {
	Size         int     `json:"size"`
	MaxSize      int     `json:"max_size"`
	TTLSeconds   float64 `json:"ttl_seconds"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	StoreVersion string  `json:"store_version"`
}

// Stats reports current occupancy and hit counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:         len(c.entries),
		MaxSize:      c.maxSize,
		TTLSeconds:   c.ttl.Seconds(),
		Hits:         c.hits,
		Misses:       c.misses,
		StoreVersion: c.version(),
	}
}
