package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"task-master/backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrInvalidTarget = errors.New("invalid database target")

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Target is a parsed connection string.
type Target struct {
	Driver Driver
	DSN    string
}

// ParseTarget accepts postgres://, postgresql://, sqlite://<path> and
// file:<path> connection strings.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case raw == "":
		return Target{}, fmt.Errorf("%w: connection string is empty", ErrInvalidTarget)

	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		if u.Host == "" {
			return Target{}, fmt.Errorf("%w: postgres URL has no host", ErrInvalidTarget)
		}
		return Target{Driver: DriverPostgres, DSN: raw}, nil

	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return Target{}, fmt.Errorf("%w: sqlite URL has no path", ErrInvalidTarget)
		}
		return Target{Driver: DriverSQLite, DSN: path}, nil

	case strings.HasPrefix(raw, "file:"):
		if raw == "file:" {
			return Target{}, fmt.Errorf("%w: sqlite URL has no path", ErrInvalidTarget)
		}
		return Target{Driver: DriverSQLite, DSN: raw}, nil
	}

	return Target{}, fmt.Errorf("%w: unsupported scheme, expected postgres://, postgresql://, sqlite:// or file:", ErrInvalidTarget)
}

func (t Target) InMemory() bool {
	return t.Driver == DriverSQLite && strings.Contains(t.DSN, ":memory:")
}

func (t Target) dialector() gorm.Dialector {
	if t.Driver == DriverPostgres {
		return postgres.Open(t.DSN)
	}
	return sqlite.Open(t.DSN)
}

type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	LogLevel        logger.LogLevel
	AutoMigrate     bool
	NowFunc         func() time.Time
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
		LogLevel:        logger.Info,
		AutoMigrate:     true,
	}
}

func (c *PoolConfig) Validate() error {
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("connection counts must not be negative")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return fmt.Errorf("connection lifetimes must not be negative")
	}
	return nil
}

// ParseLogLevel maps silent/error/warn/info to GORM log levels.
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

type DatabasePool struct {
	DB     *gorm.DB
	config *PoolConfig
	target Target
}

func NewDatabasePool(config *PoolConfig) (*DatabasePool, error) {
	return OpenPool(context.Background(), config)
}

// OpenPool connects, pings within ctx and migrates the task schema when
// AutoMigrate is set.
func OpenPool(ctx context.Context, config *PoolConfig) (*DatabasePool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	target, err := ParseTarget(config.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(target.dialector(), &gorm.Config{
		Logger:               logger.Default.LogMode(config.LogLevel),
		NowFunc:              config.NowFunc,
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if target.InMemory() {
		// every new connection to :memory: is a fresh empty database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&models.Task{}); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate task schema: %w", err)
		}
	}

	log.Printf("[database] connected using %s driver", target.Driver)

	return &DatabasePool{DB: db, config: config, target: target}, nil
}

func (p *DatabasePool) Health() error {
	return p.HealthContext(context.Background())
}

func (p *DatabasePool) HealthContext(ctx context.Context) error {
	if p.DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

func (p *DatabasePool) Stats() map[string]interface{} {
	if p.DB == nil {
		return map[string]interface{}{"error": "database not initialized"}
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	stats := sqlDB.Stats()
	return map[string]interface{}{
		"driver":              string(p.target.Driver),
		"max_open_conns":      stats.MaxOpenConnections,
		"open_conns":          stats.OpenConnections,
		"in_use":              stats.InUse,
		"idle":                stats.Idle,
		"wait_count":          stats.WaitCount,
		"wait_duration_ms":    stats.WaitDuration.Milliseconds(),
		"max_idle_closed":     stats.MaxIdleClosed,
		"max_lifetime_closed": stats.MaxLifetimeClosed,
	}
}

func (p *DatabasePool) Close() error {
	if p.DB == nil {
		return nil
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
