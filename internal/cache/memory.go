package cache

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is the process-local level. Expired entries are dropped
// lazily on read and when the entry count crosses maxEntries.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	maxEntries int
	metrics    *CacheMetrics
	now        func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithLimit(10000)
}

func NewMemoryCacheWithLimit(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		metrics:    NewCacheMetrics(),
		now:        time.Now,
	}
}

func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}

	c.entries[key] = entry
	c.metrics.Stored()
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.metrics.Miss()
		return nil, false
	}

	if entry.expired(c.now()) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.metrics.Miss()
		return nil, false
	}

	c.metrics.Hit()
	return entry.value, true
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.metrics.Removed(1)
	}
}

// DeletePattern removes keys matching a Redis-style glob pattern and
// returns how many were removed.
func (c *MemoryCache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if MatchPattern(pattern, key) {
			delete(c.entries, key)
			removed++
		}
	}
	c.metrics.Invalidated(removed)
	return removed
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) Stats() map[string]interface{} {
	stats := c.metrics.Snapshot()
	stats["entries"] = c.Len()
	return stats
}

// evictLocked drops expired entries, then arbitrary ones until there is
// room for one more.
func (c *MemoryCache) evictLocked(now time.Time) {
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
		}
	}

	for key := range c.entries {
		if len(c.entries) < c.maxEntries {
			return
		}
		delete(c.entries, key)
	}
}

// MatchPattern reports whether key matches a glob pattern using the Redis
// subset: '*' matches any run including ':' and '/', '?' matches one
// character, and '\' escapes the next character.
func MatchPattern(pattern, key string) bool {
	p, k := []rune(pattern), []rune(key)
	return matchRunes(p, k)
}

func matchRunes(p, k []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(k); i++ {
				if matchRunes(p, k[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(k) == 0 {
				return false
			}
		case '\\':
			if len(p) > 1 {
				p = p[1:]
			}
			if len(k) == 0 || k[0] != p[0] {
				return false
			}
		default:
			if len(k) == 0 || k[0] != p[0] {
				return false
			}
		}
		p, k = p[1:], k[1:]
	}
	return len(k) == 0
}
