package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrCacheDown = errors.New("cache unavailable")
)

const (
	opTimeout   = 3 * time.Second
	scanTimeout = 10 * time.Second
	scanCount   = 100
)

// RedisCache stores JSON values in Redis. Every call goes through a
// circuit breaker so an unreachable server fails fast with ErrCacheDown.
type RedisCache struct {
	client  *redis.Client
	ctx     context.Context
	breaker *CircuitBreaker
	metrics *CacheMetrics
}

// CacheConfig configures the Redis client. URL, when set, takes
// precedence over Addr, Password and DB.
type CacheConfig struct {
	URL          string
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient builds a client that the cache and the change-event
// publisher can share.
func NewRedisClient(config *CacheConfig) (*redis.Client, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	opts := &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}

	if config.URL != "" {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	if config.MaxRetries != 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	return redis.NewClient(opts), nil
}

func NewRedisCache(config *CacheConfig) (*RedisCache, error) {
	client, err := NewRedisClient(config)
	if err != nil {
		return nil, err
	}
	return NewRedisCacheWithClient(client, nil), nil
}

func NewRedisCacheWithClient(client *redis.Client, breaker *CircuitBreaker) *RedisCache {
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}

	return &RedisCache{
		client:  client,
		ctx:     context.Background(),
		breaker: breaker,
		metrics: NewCacheMetrics(),
	}
}

func (r *RedisCache) execute(fn func(ctx context.Context) error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	err := r.breaker.Execute(func() error {
		return fn(ctx)
	})
	if errors.Is(err, ErrCircuitBreakerOpen) {
		r.metrics.Failure()
		return fmt.Errorf("%w: %w", ErrCacheDown, err)
	}
	if err != nil {
		r.metrics.Failure()
	}
	return err
}

func (r *RedisCache) Set(key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	err = r.execute(func(ctx context.Context) error {
		return r.client.Set(ctx, key, data, expiration).Err()
	}, opTimeout)
	if err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	r.metrics.Stored()
	return nil
}

func (r *RedisCache) Get(key string, dest interface{}) error {
	var data string
	miss := false

	err := r.execute(func(ctx context.Context) error {
		var err error
		data, err = r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		return err
	}, opTimeout)
	if err != nil {
		return fmt.Errorf("failed to get from cache: %w", err)
	}

	if miss {
		r.metrics.Miss()
		return ErrCacheMiss
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		r.metrics.Failure()
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	r.metrics.Hit()
	return nil
}

func (r *RedisCache) Delete(key string) error {
	err := r.execute(func(ctx context.Context) error {
		return r.client.Del(ctx, key).Err()
	}, opTimeout)
	if err != nil {
		return err
	}

	r.metrics.Removed(1)
	return nil
}

// DeletePattern removes keys matching a Redis glob pattern. The whole
// keyspace is scanned before anything is deleted; deleting while the
// cursor is live can make SCAN skip keys.
func (r *RedisCache) DeletePattern(pattern string) error {
	return r.execute(func(ctx context.Context) error {
		var keys []string

		iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
		}

		for start := 0; start < len(keys); start += scanCount {
			end := min(start+scanCount, len(keys))
			if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
				return err
			}
		}
		r.metrics.Invalidated(len(keys))
		return nil
	}, scanTimeout)
}

func (r *RedisCache) Exists(key string) (bool, error) {
	var count int64
	err := r.execute(func(ctx context.Context) error {
		var err error
		count, err = r.client.Exists(ctx, key).Result()
		return err
	}, opTimeout)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// Health pings the server directly so it can report recovery while the
// breaker is still open.
func (r *RedisCache) Health() error {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Stats() map[string]interface{} {
	poolStats := r.client.PoolStats()
	stats := r.metrics.Snapshot()
	stats["pool_hits"] = poolStats.Hits
	stats["pool_misses"] = poolStats.Misses
	stats["pool_timeouts"] = poolStats.Timeouts
	stats["pool_total"] = poolStats.TotalConns
	stats["pool_idle"] = poolStats.IdleConns
	stats["pool_stale"] = poolStats.StaleConns
	stats["circuit_breaker"] = r.breaker.GetStats()
	return stats
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
