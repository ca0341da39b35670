package cache

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestDefaultCacheConfig(t *testing.T) {
	config := DefaultCacheConfig()

	if config.Addr != "localhost:6379" {
		t.Errorf("Expected Addr to be localhost:6379, got %s", config.Addr)
	}

	if config.Password != "" {
		t.Errorf("Expected Password to be empty, got %s", config.Password)
	}

	if config.DB != 0 {
		t.Errorf("Expected DB to be 0, got %d", config.DB)
	}

	if config.PoolSize != 10 {
		t.Errorf("Expected PoolSize to be 10, got %d", config.PoolSize)
	}

	if config.MinIdleConns != 5 {
		t.Errorf("Expected MinIdleConns to be 5, got %d", config.MinIdleConns)
	}

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries to be 3, got %d", config.MaxRetries)
	}

	if config.DialTimeout != 5*time.Second {
		t.Errorf("Expected DialTimeout to be 5s, got %v", config.DialTimeout)
	}

	if config.ReadTimeout != 3*time.Second {
		t.Errorf("Expected ReadTimeout to be 3s, got %v", config.ReadTimeout)
	}

	if config.WriteTimeout != 3*time.Second {
		t.Errorf("Expected WriteTimeout to be 3s, got %v", config.WriteTimeout)
	}
}

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	config := &CacheConfig{
		Addr:         mr.Addr(),
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	cache, err := NewRedisCache(config)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return cache, mr
}

func TestNewRedisCache_WithNilConfig(t *testing.T) {
	cache, err := NewRedisCache(nil)
	if err != nil {
		t.Fatalf("Expected default config to be accepted, got %v", err)
	}

	if cache == nil {
		t.Error("Expected cache to be created with default config")
	}

	if cache.client == nil {
		t.Error("Expected Redis client to be initialized")
	}
}

func TestNewRedisCache_WithCustomConfig(t *testing.T) {
	config := &CacheConfig{
		Addr:         "localhost:6379",
		Password:     "test-password",
		DB:           1,
		PoolSize:     20,
		MinIdleConns: 10,
		MaxRetries:   5,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	cache, err := NewRedisCache(config)
	if err != nil {
		t.Fatalf("Expected custom config to be accepted, got %v", err)
	}

	if cache.client == nil {
		t.Error("Expected Redis client to be initialized")
	}
}

func TestRedisCache_SetAndGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	type testData struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	original := testData{Name: "test", Value: 42}
	key := "test:key"

	err := cache.Set(key, original, time.Minute)
	if err != nil {
		t.Fatalf("Failed to set cache: %v", err)
	}

	var retrieved testData
	err = cache.Get(key, &retrieved)
	if err != nil {
		t.Fatalf("Failed to get from cache: %v", err)
	}

	if retrieved.Name != original.Name {
		t.Errorf("Expected Name %s, got %s", original.Name, retrieved.Name)
	}

	if retrieved.Value != original.Value {
		t.Errorf("Expected Value %d, got %d", original.Value, retrieved.Value)
	}
}

func TestRedisCache_Get_CacheMiss(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	var result string
	err := cache.Get("non-existent-key", &result)

	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestRedisCache_Set_InvalidData(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	ch := make(chan int)
	err := cache.Set("test:key", ch, time.Minute)

	if err == nil {
		t.Error("Expected error when setting unmarshalable data")
	}
}

func TestRedisCache_Get_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	mr.Set("test:invalid", "invalid-json")

	var result map[string]interface{}
	err := cache.Get("test:invalid", &result)

	if err == nil {
		t.Error("Expected error when getting invalid JSON")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	key := "test:delete"
	data := "test-data"

	err := cache.Set(key, data, time.Minute)
	if err != nil {
		t.Fatalf("Failed to set cache: %v", err)
	}

	var retrieved string
	err = cache.Get(key, &retrieved)
	if err != nil {
		t.Fatalf("Failed to get from cache: %v", err)
	}

	err = cache.Delete(key)
	if err != nil {
		t.Fatalf("Failed to delete from cache: %v", err)
	}

	err = cache.Get(key, &retrieved)
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestRedisCache_DeletePattern(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	keys := []string{"test:pattern:1", "test:pattern:2", "test:other:1"}
	for _, key := range keys {
		err := cache.Set(key, "data", time.Minute)
		if err != nil {
			t.Fatalf("Failed to set cache key %s: %v", key, err)
		}
	}

	err := cache.DeletePattern("test:pattern:*")
	if err != nil {
		t.Fatalf("Failed to delete pattern: %v", err)
	}

	var result string
	for _, key := range []string{"test:pattern:1", "test:pattern:2"} {
		err = cache.Get(key, &result)
		if !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected key %s to be deleted, but got: %v", key, err)
		}
	}

	err = cache.Get("test:other:1", &result)
	if err != nil {
		t.Errorf("Expected key test:other:1 to still exist, got: %v", err)
	}
}

func TestRedisCache_Exists(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	key := "test:exists"

	exists, err := cache.Exists(key)
	if err != nil {
		t.Fatalf("Failed to check existence: %v", err)
	}
	if exists {
		t.Error("Expected key to not exist")
	}

	err = cache.Set(key, "data", time.Minute)
	if err != nil {
		t.Fatalf("Failed to set cache: %v", err)
	}

	exists, err = cache.Exists(key)
	if err != nil {
		t.Fatalf("Failed to check existence: %v", err)
	}
	if !exists {
		t.Error("Expected key to exist")
	}
}

func TestRedisCache_Health(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	err := cache.Health()
	if err != nil {
		t.Errorf("Expected healthy cache, got error: %v", err)
	}

	mr.Close()

	err = cache.Health()
	if err == nil {
		t.Error("Expected unhealthy cache after closing Redis")
	}
}

func TestRedisCache_Stats(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	stats := cache.Stats()

	if stats == nil {
		t.Error("Expected non-nil stats")
	}

	if len(stats) == 0 {
		t.Log("Stats is empty, which is expected with miniredis mock")
	}
}

func TestRedisCache_Close(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	err := cache.Close()
	if err != nil {
		t.Errorf("Failed to close cache: %v", err)
	}

	err = cache.Set("test", "data", time.Minute)
	if err == nil {
		t.Error("Expected error when using cache after close")
	}
}

func TestNewRedisClient_FromURL(t *testing.T) {
	client, err := NewRedisClient(&CacheConfig{URL: "redis://:secret@cache.internal:6380/2", PoolSize: 7})
	if err != nil {
		t.Fatalf("Expected URL to parse, got %v", err)
	}
	defer client.Close()

	opts := client.Options()
	if opts.Addr != "cache.internal:6380" {
		t.Errorf("Expected addr from URL, got %s", opts.Addr)
	}
	if opts.Password != "secret" || opts.DB != 2 {
		t.Errorf("Expected password and db from URL, got %q %d", opts.Password, opts.DB)
	}
	if opts.PoolSize != 7 {
		t.Errorf("Expected pool size override 7, got %d", opts.PoolSize)
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient(&CacheConfig{URL: "http://not-redis"}); err == nil {
		t.Error("Expected error for non-redis URL")
	}
}

func TestRedisCache_DeletePatternScansManyKeys(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	for i := 0; i < 250; i++ {
		mr.Set(fmt.Sprintf("user_tasks:owner-1:q%d", i), "[]")
	}
	mr.Set("user_tasks:owner-2:q0", "[]")

	if err := cache.DeletePattern("user_tasks:owner-1:*"); err != nil {
		t.Fatalf("Failed to delete pattern: %v", err)
	}

	if n := len(mr.Keys()); n != 1 {
		t.Errorf("Expected only the other owner's key to remain, got %d keys", n)
	}

	stats := cache.Stats()
	if stats["removed"] != int64(250) || stats["invalidations"] != int64(1) {
		t.Errorf("Expected one invalidation removing 250 keys, got %v and %v", stats["invalidations"], stats["removed"])
	}
}

func TestRedisCache_BreakerOpensWhenServerIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(&CacheConfig{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	breaker := NewCircuitBreaker(&CircuitBreakerConfig{Name: "test", MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	cache := NewRedisCacheWithClient(client, breaker)
	defer cache.Close()

	mr.Close()

	var result string
	for i := 0; i < 2; i++ {
		if err := cache.Get("k", &result); err == nil {
			t.Fatal("Expected error while redis is down")
		}
	}

	err = cache.Get("k", &result)
	if !errors.Is(err, ErrCacheDown) {
		t.Errorf("Expected ErrCacheDown once the breaker is open, got %v", err)
	}
	if breaker.GetState() != CircuitBreakerOpen {
		t.Errorf("Expected breaker to be open, got %v", breaker.GetState())
	}
}

func TestRedisCache_StatsCountHitsAndMisses(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()

	var result string
	_ = cache.Set("k", "v", time.Minute)
	_ = cache.Get("k", &result)
	_ = cache.Get("missing", &result)

	stats := cache.Stats()
	if stats["hits"] != int64(1) || stats["misses"] != int64(1) {
		t.Errorf("Expected 1 hit and 1 miss, got %v and %v", stats["hits"], stats["misses"])
	}
	if _, ok := stats["circuit_breaker"]; !ok {
		t.Error("Expected circuit breaker stats")
	}
}

func BenchmarkRedisCache_Set(b *testing.B) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	cache, _ := NewRedisCache(&CacheConfig{Addr: mr.Addr()})

	data := map[string]string{"key": "value"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := cache.Set("benchmark:key", data, time.Minute)
		if err != nil {
			b.Fatalf("Failed to set cache: %v", err)
		}
	}
}

func BenchmarkRedisCache_Get(b *testing.B) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	cache, _ := NewRedisCache(&CacheConfig{Addr: mr.Addr()})

	data := map[string]string{"key": "value"}
	err = cache.Set("benchmark:key", data, time.Minute)
	if err != nil {
		b.Fatalf("Failed to set cache: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var result map[string]string
		err := cache.Get("benchmark:key", &result)
		if err != nil {
			b.Fatalf("Failed to get cache: %v", err)
		}
	}
}

func TestErrCacheMiss(t *testing.T) {
	if ErrCacheMiss.Error() != "cache miss" {
		t.Errorf("Expected ErrCacheMiss message to be 'cache miss', got '%s'", ErrCacheMiss.Error())
	}
}

func TestErrCacheDown(t *testing.T) {
	if ErrCacheDown.Error() != "cache unavailable" {
		t.Errorf("Expected ErrCacheDown message to be 'cache unavailable', got '%s'", ErrCacheDown.Error())
	}
}
