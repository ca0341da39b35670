package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

type Cache interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Get(key string, dest interface{}) error
	Delete(key string) error
	DeletePattern(pattern string) error
	Exists(key string) (bool, error)
	Stats() map[string]interface{}
	Health() error
	Close() error
}

const DefaultLocalTTL = 30 * time.Second

// MultiLevelCache fronts an optional shared cache with a process-local
// one. Local entries live at most localTTL so that peers converge even if
// a change event is missed.
type MultiLevelCache struct {
	l1       *MemoryCache
	l2       Cache
	localTTL time.Duration
	metrics  *CacheMetrics
}

// NewMultiLevelCache builds a two-level cache. A nil shared cache gives a
// local-only cache.
func NewMultiLevelCache(shared Cache, localTTL time.Duration) *MultiLevelCache {
	if localTTL <= 0 {
		localTTL = DefaultLocalTTL
	}

	return &MultiLevelCache{
		l1:       NewMemoryCache(),
		l2:       shared,
		localTTL: localTTL,
		metrics:  NewCacheMetrics(),
	}
}

func (c *MultiLevelCache) localExpiry(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > c.localTTL {
		return c.localTTL
	}
	return ttl
}

func (c *MultiLevelCache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	c.l1.Set(key, json.RawMessage(data), c.localExpiry(ttl))
	c.metrics.Stored()

	if c.l2 != nil {
		if err := c.l2.Set(key, value, ttl); err != nil {
			c.metrics.Failure()
			return err
		}
	}

	return nil
}

func (c *MultiLevelCache) Get(key string, dest interface{}) error {
	if value, found := c.l1.Get(key); found {
		c.metrics.Hit()
		return copyValue(value, dest)
	}

	if c.l2 == nil {
		c.metrics.Miss()
		return ErrCacheMiss
	}

	err := c.l2.Get(key, dest)
	switch {
	case err == nil:
		c.metrics.Hit()
		if data, err := json.Marshal(dest); err == nil {
			c.l1.Set(key, json.RawMessage(data), c.localTTL)
		}
		return nil
	case errors.Is(err, ErrCacheMiss):
		c.metrics.Miss()
	default:
		c.metrics.Failure()
	}
	return err
}

func (c *MultiLevelCache) Delete(key string) error {
	c.l1.Delete(key)

	if c.l2 != nil {
		return c.l2.Delete(key)
	}

	return nil
}

func (c *MultiLevelCache) DeletePattern(pattern string) error {
	c.InvalidateLocal(pattern)

	if c.l2 != nil {
		return c.l2.DeletePattern(pattern)
	}

	return nil
}

// InvalidateLocal drops matching keys from the local level only. It is
// used when another instance has already cleared the shared level.
func (c *MultiLevelCache) InvalidateLocal(pattern string) int {
	return c.l1.DeletePattern(pattern)
}

func (c *MultiLevelCache) Exists(key string) (bool, error) {
	if _, found := c.l1.Get(key); found {
		return true, nil
	}

	if c.l2 != nil {
		return c.l2.Exists(key)
	}

	return false, nil
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := c.metrics.Snapshot()
	stats["l1"] = c.l1.Stats()

	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}

	return stats
}

func (c *MultiLevelCache) Health() error {
	if c.l2 != nil {
		return c.l2.Health()
	}

	return nil
}

func (c *MultiLevelCache) Close() error {
	if c.l2 != nil {
		return c.l2.Close()
	}

	return nil
}

// copyValue decodes src into dest. The local level holds encoded JSON, so
// every read gets a fresh copy.
func copyValue(src, dest interface{}) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr {
		return fmt.Errorf("destination must be a pointer, got %T", dest)
	}

	if destValue.IsNil() {
		return fmt.Errorf("destination pointer is nil")
	}

	jsonData, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source value: %w", err)
	}

	if err := json.Unmarshal(jsonData, dest); err != nil {
		return fmt.Errorf("failed to unmarshal to destination: %w", err)
	}

	return nil
}
