package secrets

import (
	"container/list"
	"sync"
	"time"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// cacheEntry is one cached plaintext value with its expiry.
type cacheEntry struct {
	value     string
	expiresAt time.Time
	key       string
	element   *list.Element
}

// valueCache is a bounded TTL cache over decrypted secret values with LRU
// eviction. Expired entries are dropped lazily on read and by the store's
// periodic sweep.
type valueCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	clock   func() time.Time
	logger  observability.Logger
}

func newValueCache(maxSize int, clock func() time.Time, logger observability.Logger) *valueCache {
	return &valueCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		clock:   clock,
		logger:  logger,
	}
}

// get returns the cached value if present and unexpired.
func (c *valueCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		RecordCacheMiss()
		return "", false
	}

	if c.clock().After(entry.expiresAt) {
		c.removeLocked(key)
		RecordCacheMiss()
		return "", false
	}

	c.lruList.MoveToFront(entry.element)
	RecordCacheHit()
	return entry.value, true
}

// set stores a value until expiresAt, evicting the least recently used
// entry when the cache is full.
func (c *valueCache) set(key, value string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.expiresAt = expiresAt
		c.lruList.MoveToFront(existing.element)
		return
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}

	entry := &cacheEntry{
		value:     value,
		expiresAt: expiresAt,
		key:       key,
	}
	entry.element = c.lruList.PushFront(entry)
	c.entries[key] = entry
	UpdateCacheSize(len(c.entries))
}

// remove drops a key from the cache.
func (c *valueCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *valueCache) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	c.lruList.Remove(entry.element)
	delete(c.entries, key)
	UpdateCacheSize(len(c.entries))
}

// sweep removes all expired entries and returns how many were dropped.
func (c *valueCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.clock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("swept expired secret cache entries",
			observability.Int("removed", removed),
			observability.Int("remaining", len(c.entries)),
		)
	}
	return removed
}

// size returns the number of cached entries.
func (c *valueCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// clear drops every entry.
func (c *valueCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
	UpdateCacheSize(0)
}
