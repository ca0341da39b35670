package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ErrUnavailable means no database handle can be supplied: the target is
// missing or malformed, the connection attempt failed, or the caller gave
// up waiting.
var ErrUnavailable = errors.New("database unavailable")

var (
	errClosed    = errors.New("connection manager closed")
	errAbandoned = errors.New("connection attempt abandoned by reset")
)

type Opener func(ctx context.Context, config *PoolConfig) (*DatabasePool, error)

type ManagerOption func(*Manager)

func WithOpener(open Opener) ManagerOption {
	return func(m *Manager) {
		m.open = open
	}
}

func WithConnectTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.connectTimeout = timeout
		}
	}
}

// Manager memoizes one database pool for the lifetime of the process.
// Concurrent callers during a cold start share a single connection attempt;
// a failed attempt is not remembered, so the next caller retries.
// Once established the pool is never replaced except through Reset.
type Manager struct {
	config         *PoolConfig
	open           Opener
	connectTimeout time.Duration

	group    singleflight.Group
	mu       sync.RWMutex
	pool     *DatabasePool
	epoch    uint64 // bumped by Reset; an attempt from an older epoch is discarded
	closed   bool
	attempts atomic.Int64

	invalidTargetOnce sync.Once
}

func NewManager(config *PoolConfig, opts ...ManagerOption) *Manager {
	if config == nil {
		config = DefaultPoolConfig()
	}

	m := &Manager{
		config:         config,
		open:           OpenPool,
		connectTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) current() *DatabasePool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

// Acquire returns a handle bound to ctx, connecting on first use.
func (m *Manager) Acquire(ctx context.Context) (*gorm.DB, error) {
	if pool := m.current(); pool != nil {
		return pool.DB.WithContext(ctx), nil
	}

	if m.isClosed() {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errClosed)
	}

	if _, err := ParseTarget(m.config.DSN); err != nil {
		m.invalidTargetOnce.Do(func() {
			log.Printf("[database] data operations disabled: %v", err)
		})
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	result := m.group.DoChan("connect", m.connect)

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, res.Err)
		}
		return res.Val.(*DatabasePool).DB.WithContext(ctx), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) connect() (interface{}, error) {
	m.mu.RLock()
	pool, epoch, closed := m.pool, m.epoch, m.closed
	m.mu.RUnlock()

	if pool != nil {
		return pool, nil
	}
	if closed {
		return nil, errClosed
	}

	m.attempts.Add(1)

	// detached from any single caller so one cancelled request does not
	// abort the attempt the others are waiting on
	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
	defer cancel()

	pool, err := m.open(ctx, m.config)
	if err != nil {
		log.Printf("[database] connection attempt failed: %v", err)
		return nil, err
	}

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		closed := m.closed
		m.mu.Unlock()

		log.Printf("[database] discarding connection opened across reset or close")
		if err := pool.Close(); err != nil {
			log.Printf("[database] close discarded pool: %v", err)
		}
		if closed {
			return nil, errClosed
		}
		return nil, errAbandoned
	}
	m.pool = pool
	m.mu.Unlock()

	return pool, nil
}

// Ready reports whether a pool has been established.
func (m *Manager) Ready() bool {
	return m.current() != nil
}

// Attempts is the number of connection attempts made so far.
func (m *Manager) Attempts() int64 {
	return m.attempts.Load()
}

func (m *Manager) Health(ctx context.Context) error {
	pool := m.current()
	if pool == nil {
		return ErrUnavailable
	}
	return pool.HealthContext(ctx)
}

func (m *Manager) Stats() map[string]interface{} {
	pool := m.current()
	if pool == nil {
		return map[string]interface{}{"error": ErrUnavailable.Error()}
	}
	return pool.Stats()
}

// Reset drops the cached pool so the next Acquire reconnects.
func (m *Manager) Reset() error {
	m.mu.Lock()
	pool := m.pool
	m.pool = nil
	m.epoch++
	m.mu.Unlock()

	if pool == nil {
		return nil
	}
	return pool.Close()
}

// Close releases the pool for good; later Acquire calls are unavailable
// and an attempt still in flight is discarded when it finishes.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Reset()
}
