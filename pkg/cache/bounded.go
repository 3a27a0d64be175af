package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
)

// boundedEntry represents an entry in the bounded TTL cache.
type boundedEntry[V any] struct {
	key       string
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// isExpired checks if the entry has expired.
func (e *boundedEntry[V]) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// boundedCache is a thread-safe TTL cache with bounded capacity.
// The order list tracks store time: Set appends to the back (and re-storing
// an existing key moves it to the back), so the front element is always the
// entry with the oldest storedAt and capacity eviction is O(1).
type boundedCache[V any] struct {
	mu            sync.RWMutex
	capacity      int
	defaultTTL    time.Duration
	sweepInterval time.Duration
	items         map[string]*list.Element // key -> list element
	order         *list.List               // storedAt order, oldest at front
	stats         *Statistics
	metrics       *cacheMetrics    // Optional, if metrics enabled
	evictFn       EvictCallback[V] // Optional callback

	// Background sweep coordination
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a bounded TTL cache and starts its background sweep goroutine.
// The goroutine stops when ctx is cancelled or Close is called.
// Returns an error if the config is invalid or metrics registration fails.
func New[V any](ctx context.Context, cfg Config, options ...Option[V]) (Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	opts := applyOptions(options...)

	// Stats are always initialized - observability is not optional
	stats := NewStatistics()

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
	}

	c := &boundedCache[V]{
		capacity:      cfg.Capacity,
		defaultTTL:    cfg.DefaultTTL,
		sweepInterval: cfg.SweepInterval,
		items:         make(map[string]*list.Element),
		order:         list.New(),
		stats:         stats,
		metrics:       metrics,
		evictFn:       opts.evictCallback,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	go c.sweep(ctx)

	return c, nil
}

// Get retrieves a value by key, lazily evicting it if expired.
func (c *boundedCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	element, exists := c.items[key]
	var entry *boundedEntry[V]
	if exists {
		entry = element.Value.(*boundedEntry[V])
	}
	c.mu.RUnlock()

	if !exists {
		var zero V
		c.recordMiss()
		return zero, false
	}

	if entry.isExpired() {
		c.mu.Lock()
		// Double-check it's still there and still expired
		if element, stillExists := c.items[key]; stillExists {
			if current := element.Value.(*boundedEntry[V]); current.isExpired() {
				c.removeElementLocked(element, current)
				c.stats.Eviction()
				c.stats.UpdateSize(int64(len(c.items)))
				if c.metrics != nil {
					c.metrics.recordEviction()
					c.metrics.updateSize(len(c.items))
				}
			}
		}
		c.mu.Unlock()

		var zero V
		c.recordMiss()
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

// Set stores a value with the default TTL.
func (c *boundedCache[V]) Set(key string, value V) (bool, error) {
	return c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with an explicit TTL, evicting the oldest entry
// first when the cache is at capacity.
func (c *boundedCache[V]) SetWithTTL(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	var evicted *boundedEntry[V]

	c.mu.Lock()
	element, exists := c.items[key]
	if exists {
		// Re-storing refreshes storedAt, so the entry moves to the back
		entry := element.Value.(*boundedEntry[V])
		entry.value = value
		entry.storedAt = now
		entry.expiresAt = now.Add(ttl)
		c.order.MoveToBack(element)
	} else {
		if c.order.Len() >= c.capacity {
			// Evict the entry with the oldest storedAt
			if front := c.order.Front(); front != nil {
				old := front.Value.(*boundedEntry[V])
				c.removeElementLocked(front, old)
				evicted = old
				c.stats.Eviction()
				if c.metrics != nil {
					c.metrics.recordEviction()
				}
			}
		}
		entry := &boundedEntry[V]{
			key:       key,
			value:     value,
			storedAt:  now,
			expiresAt: now.Add(ttl),
		}
		c.items[key] = c.order.PushBack(entry)
	}
	size := len(c.items)
	c.mu.Unlock()

	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}

	return !exists, nil
}

// Delete removes an entry by key.
func (c *boundedCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	var entry *boundedEntry[V]
	if exists {
		entry = element.Value.(*boundedEntry[V])
		c.removeElementLocked(element, entry)
	}
	size := len(c.items)
	c.mu.Unlock()

	if exists {
		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
		c.stats.Delete()
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			c.metrics.recordDelete()
			c.metrics.updateSize(size)
		}
	}

	return exists, nil
}

// InvalidateByPattern removes every entry whose key contains the substring.
func (c *boundedCache[V]) InvalidateByPattern(substring string) int {
	if substring == "" {
		return 0
	}

	var removed []*boundedEntry[V]

	c.mu.Lock()
	for key, element := range c.items {
		if strings.Contains(key, substring) {
			entry := element.Value.(*boundedEntry[V])
			c.removeElementLocked(element, entry)
			removed = append(removed, entry)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(removed) > 0 {
		for _, entry := range removed {
			if c.evictFn != nil {
				c.evictFn(entry.key, entry.value)
			}
			c.stats.Delete()
			if c.metrics != nil {
				c.metrics.recordDelete()
			}
		}
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			c.metrics.updateSize(size)
		}
	}

	return len(removed)
}

// Clear removes all entries from the cache.
func (c *boundedCache[V]) Clear() error {
	c.mu.Lock()
	var cleared []*boundedEntry[V]
	if c.evictFn != nil {
		cleared = make([]*boundedEntry[V], 0, len(c.items))
		for _, element := range c.items {
			cleared = append(cleared, element.Value.(*boundedEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	for _, entry := range cleared {
		c.evictFn(entry.key, entry.value)
	}

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}

	return nil
}

// Size returns the current number of entries in the cache.
func (c *boundedCache[V]) Size() int {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	return size
}

// Keys returns all unexpired keys currently in the cache.
func (c *boundedCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	now := time.Now()
	for key, element := range c.items {
		if now.Before(element.Value.(*boundedEntry[V]).expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *boundedCache[V]) Stats() *Statistics {
	return c.stats
}

// Close shuts down the cache and stops the background sweep goroutine.
func (c *boundedCache[V]) Close() error {
	select {
	case <-c.shutdown:
		// Already shutting down
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sweep goroutine to finish")
	}
}

// removeElementLocked removes an entry from both the map and the order list.
// Caller must hold c.mu.
func (c *boundedCache[V]) removeElementLocked(element *list.Element, entry *boundedEntry[V]) {
	c.order.Remove(element)
	delete(c.items, entry.key)
}

// recordMiss tracks a miss in stats and optional metrics.
func (c *boundedCache[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

// sweep runs in a background goroutine and periodically removes expired
// entries, bounding memory when keys are never re-read.
func (c *boundedCache[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *boundedCache[V]) removeExpired() {
	now := time.Now()
	var expired []*boundedEntry[V]

	c.mu.Lock()
	for _, element := range c.items {
		entry := element.Value.(*boundedEntry[V])
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
		}
	}
	for _, entry := range expired {
		if element, ok := c.items[entry.key]; ok {
			c.removeElementLocked(element, entry)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	// Call eviction callbacks outside the lock
	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}

	if len(expired) > 0 {
		for range expired {
			c.stats.Eviction()
		}
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			for range expired {
				c.metrics.recordEviction()
			}
			c.metrics.updateSize(size)
		}
	}
}
