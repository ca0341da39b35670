package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listing struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "v", time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestMemoryCache_EvictsAtLimit(t *testing.T) {
	c := NewMemoryCacheWithLimit(2)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestMemoryCache_DeletePattern(t *testing.T) {
	c := NewMemoryCache()
	c.Set("user_tasks:alice:p=all&s=all&q=", 1, time.Minute)
	c.Set("user_tasks:alice:p=low&s=all&q=a%2Fb", 1, time.Minute)
	c.Set("user_tasks:bob:p=all&s=all&q=", 1, time.Minute)

	removed := c.DeletePattern("user_tasks:alice:*")

	assert.Equal(t, 2, removed)
	_, ok := c.Get("user_tasks:bob:p=all&s=all&q=")
	assert.True(t, ok)
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"user_tasks:alice:*", "user_tasks:alice:x", true},
		{"user_tasks:alice:*", "user_tasks:alice:", true},
		{"user_tasks:alice:*", "user_tasks:alicex:y", false},
		{"user_tasks:*:all", "user_tasks:a/b:all", true},
		{"k?y", "key", true},
		{"k?y", "ky", false},
		{`user_tasks:a\*b:*`, "user_tasks:a*b:q", true},
		{`user_tasks:a\*b:*`, "user_tasks:aXb:q", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchPattern(tt.pattern, tt.key), "%s vs %s", tt.pattern, tt.key)
	}
}

func TestMultiLevelCache_LocalOnly(t *testing.T) {
	c := NewMultiLevelCache(nil, time.Minute)

	var out []listing
	assert.ErrorIs(t, c.Get("k", &out), ErrCacheMiss)

	require.NoError(t, c.Set("k", []listing{{ID: "1", Title: "a"}}, time.Minute))
	require.NoError(t, c.Get("k", &out))
	assert.Equal(t, []listing{{ID: "1", Title: "a"}}, out)

	out[0].Title = "mutated"
	var again []listing
	require.NoError(t, c.Get("k", &again))
	assert.Equal(t, "a", again[0].Title)

	assert.NoError(t, c.Health())
}

func TestMultiLevelCache_FallsBackToShared(t *testing.T) {
	mr := miniredis.RunT(t)
	shared, err := NewRedisCache(&CacheConfig{Addr: mr.Addr()})
	require.NoError(t, err)

	writer := NewMultiLevelCache(shared, time.Minute)
	reader := NewMultiLevelCache(shared, time.Minute)
	defer writer.Close()

	require.NoError(t, writer.Set("user_tasks:alice:q", []listing{{ID: "1"}}, time.Minute))

	var out []listing
	require.NoError(t, reader.Get("user_tasks:alice:q", &out))
	assert.Len(t, out, 1)

	// now served locally even if the shared copy is gone
	mr.FlushAll()
	out = nil
	require.NoError(t, reader.Get("user_tasks:alice:q", &out))
	assert.Len(t, out, 1)

	assert.Equal(t, 1, reader.InvalidateLocal("user_tasks:alice:*"))
	assert.ErrorIs(t, reader.Get("user_tasks:alice:q", &out), ErrCacheMiss)
}

func TestMultiLevelCache_DeletePatternClearsBothLevels(t *testing.T) {
	mr := miniredis.RunT(t)
	shared, err := NewRedisCache(&CacheConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	c := NewMultiLevelCache(shared, time.Minute)
	defer c.Close()

	require.NoError(t, c.Set("user_tasks:alice:a", 1, time.Minute))
	require.NoError(t, c.Set("user_tasks:bob:a", 1, time.Minute))

	require.NoError(t, c.DeletePattern("user_tasks:alice:*"))

	assert.False(t, mr.Exists("user_tasks:alice:a"))
	assert.True(t, mr.Exists("user_tasks:bob:a"))

	exists, err := c.Exists("user_tasks:alice:a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMultiLevelCache_LocalTTLIsCapped(t *testing.T) {
	c := NewMultiLevelCache(nil, 0)
	assert.Equal(t, DefaultLocalTTL, c.localTTL)
	assert.Equal(t, DefaultLocalTTL, c.localExpiry(time.Hour))
	assert.Equal(t, time.Second, c.localExpiry(time.Second))
}

func TestMultiLevelCache_Stats(t *testing.T) {
	c := NewMultiLevelCache(nil, time.Minute)
	_ = c.Set("k", 1, time.Minute)

	var v int
	_ = c.Get("k", &v)
	_ = c.Get("missing", &v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Contains(t, stats, "l1")
	assert.NotContains(t, stats, "l2")
}
