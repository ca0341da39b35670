package cache

import (
	"sync/atomic"
	"time"
)

// CacheMetrics counts listing-cache traffic for the /metrics payload.
// Invalidations are pattern deletes, one per task mutation or change event;
// removed counts the listing keys they and single deletes dropped.
type CacheMetrics struct {
	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	stored        atomic.Int64
	removed       atomic.Int64
	invalidations atomic.Int64
	since         time.Time
}

func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{since: time.Now()}
}

func (m *CacheMetrics) Hit()     { m.hits.Add(1) }
func (m *CacheMetrics) Miss()    { m.misses.Add(1) }
func (m *CacheMetrics) Failure() { m.errors.Add(1) }
func (m *CacheMetrics) Stored()  { m.stored.Add(1) }

func (m *CacheMetrics) Removed(keys int) {
	m.removed.Add(int64(keys))
}

func (m *CacheMetrics) Invalidated(keys int) {
	m.invalidations.Add(1)
	m.removed.Add(int64(keys))
}

// HitRatio is hits over lookups, 0 before the first lookup.
func (m *CacheMetrics) HitRatio() float64 {
	hits, misses := m.hits.Load(), m.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Snapshot returns the counters as a fresh map the caller may extend.
func (m *CacheMetrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"hits":          m.hits.Load(),
		"misses":        m.misses.Load(),
		"errors":        m.errors.Load(),
		"stored":        m.stored.Load(),
		"removed":       m.removed.Load(),
		"invalidations": m.invalidations.Load(),
		"hit_ratio":     m.HitRatio(),
		"since":         m.since.UTC().Format(time.RFC3339),
	}
}
