package metriccache

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects and configures the cache backend
type Config struct {
	Backend string // "memory", "sqlite", "postgres", "redis"

	// Memory config
	MemorySize int

	// SQLite config
	SQLitePath string

	// PostgreSQL config
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresMaxLifetime time.Duration
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Backend:             BackendMemory,
		MemorySize:          DefaultMemorySize,
		SQLitePath:          "/tmp/beacon-metrics.db",
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresTimeout:     10 * time.Second,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		RedisKeyPrefix:      DefaultRedisKeyPrefix,
	}
}

// Validate checks that the selected backend has what it needs
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite cache")
		}
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres cache")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, sqlite, postgres, or redis)", c.Backend)
	}
	return nil
}

// Open builds the configured backend and wraps it in Resilient. Register
// health checks against the returned store's backend via HealthCheck.
func Open(ctx context.Context, cfg Config, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) (*Resilient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case BackendMemory:
		store, err = NewMemoryStore(cfg.MemorySize, opts...)
	case BackendSQLite:
		store, err = OpenSQLite(ctx, cfg.SQLitePath, opts...)
	case BackendPostgres:
		store, err = OpenPostgres(ctx, PostgresConfig{
			URL:         cfg.PostgresURL,
			MaxConns:    cfg.PostgresMaxConns,
			MinConns:    cfg.PostgresMinConns,
			MaxLifetime: cfg.PostgresMaxLifetime,
			Timeout:     cfg.PostgresTimeout,
		}, opts...)
	case BackendRedis:
		store, err = OpenRedis(ctx, RedisConfig{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.RedisMaxRetries,
			PoolSize:   cfg.RedisPoolSize,
			KeyPrefix:  cfg.RedisKeyPrefix,
		}, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Backend, err)
	}

	return NewResilient(store, cfg.Backend, logger, metrics), nil
}

// HealthCheck returns a readiness probe for the store's backend, or nil when
// the backend has nothing to probe.
func HealthCheck(store Store) observability.CheckFunc {
	if r, ok := store.(*Resilient); ok {
		store = r.Unwrap()
	}
	switch s := store.(type) {
	case *SQLStore:
		return observability.SQLCheck(s.DB())
	case *RedisStore:
		return observability.RedisCheck(s.Client())
	default:
		return nil
	}
}
