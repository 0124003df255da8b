package metriccache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/beacon/pkg/metric"
)

// Migration represents a schema migration for a SQL backed store
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// dialect holds the backend specific statements. SQLite stores timestamps as
// unix milliseconds so range predicates compare integers.
type dialect struct {
	name       string
	get        string
	upsert     string
	invalidate string
	purge      string
	tenants    string
	migrations []Migration
	encodeTime func(time.Time) interface{}
}

var postgresDialect = dialect{
	name: "postgres",
	get: `
		SELECT value, computed_at, expires_at, metadata
		FROM cached_metrics
		WHERE tenant_id = $1 AND metric_kind = $2 AND expires_at > $3
	`,
	upsert: `
		INSERT INTO cached_metrics (tenant_id, metric_kind, value, computed_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, metric_kind)
		DO UPDATE SET
			value = EXCLUDED.value,
			computed_at = EXCLUDED.computed_at,
			expires_at = EXCLUDED.expires_at,
			metadata = EXCLUDED.metadata
	`,
	invalidate: `DELETE FROM cached_metrics WHERE tenant_id = $1 AND metric_kind = $2`,
	purge:      `DELETE FROM cached_metrics WHERE expires_at <= $1`,
	tenants:    `SELECT id FROM tenants WHERE active = TRUE ORDER BY id`,
	migrations: []Migration{
		{
			Version:     1,
			Description: "Create cached_metrics table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cached_metrics (
					tenant_id TEXT NOT NULL,
					metric_kind TEXT NOT NULL,
					value JSONB NOT NULL,
					computed_at TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					metadata JSONB NOT NULL DEFAULT '{}',
					UNIQUE (tenant_id, metric_kind)
				);

				CREATE INDEX IF NOT EXISTS idx_cached_metrics_expires_at ON cached_metrics(expires_at);
			`,
		},
	},
	encodeTime: func(t time.Time) interface{} { return t.UTC() },
}

var sqliteDialect = dialect{
	name: "sqlite",
	get: `
		SELECT value, computed_at, expires_at, metadata
		FROM cached_metrics
		WHERE tenant_id = ? AND metric_kind = ? AND expires_at > ?
	`,
	upsert: `
		INSERT INTO cached_metrics (tenant_id, metric_kind, value, computed_at, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, metric_kind)
		DO UPDATE SET
			value = excluded.value,
			computed_at = excluded.computed_at,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata
	`,
	invalidate: `DELETE FROM cached_metrics WHERE tenant_id = ? AND metric_kind = ?`,
	purge:      `DELETE FROM cached_metrics WHERE expires_at <= ?`,
	tenants:    `SELECT id FROM tenants WHERE active = 1 ORDER BY id`,
	migrations: []Migration{
		{
			Version:     1,
			Description: "Create cached_metrics table",
			SQL: `
				CREATE TABLE IF NOT EXISTS cached_metrics (
					tenant_id TEXT NOT NULL,
					metric_kind TEXT NOT NULL,
					value TEXT NOT NULL,
					computed_at INTEGER NOT NULL,
					expires_at INTEGER NOT NULL,
					metadata TEXT NOT NULL DEFAULT '{}',
					UNIQUE (tenant_id, metric_kind)
				);

				CREATE INDEX IF NOT EXISTS idx_cached_metrics_expires_at ON cached_metrics(expires_at);
			`,
		},
		{
			Version:     2,
			Description: "Create tenants table for single node deployments",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id TEXT PRIMARY KEY,
					active INTEGER NOT NULL DEFAULT 1
				);
			`,
		},
	},
	encodeTime: func(t time.Time) interface{} { return t.UnixMicro() },
}

// SQLStore is a Store over database/sql. The (tenant_id, metric_kind) unique
// constraint plus INSERT ... ON CONFLICT DO UPDATE makes Put a single atomic upsert.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	opts    options
}

// NewPostgresStore creates a store over an open PostgreSQL pool
func NewPostgresStore(db *sql.DB, opts ...Option) *SQLStore {
	return &SQLStore{db: db, dialect: postgresDialect, opts: buildOptions(opts)}
}

// NewSQLiteStore creates a store over an open SQLite database
func NewSQLiteStore(db *sql.DB, opts ...Option) *SQLStore {
	return &SQLStore{db: db, dialect: sqliteDialect, opts: buildOptions(opts)}
}

// PostgresConfig holds connection pool settings for the PostgreSQL store
type PostgresConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
	Timeout     time.Duration
}

// OpenPostgres connects to PostgreSQL and verifies the connection
func OpenPostgres(ctx context.Context, cfg PostgresConfig, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open metric cache database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping metric cache database: %w", err)
	}

	return NewPostgresStore(db, opts...), nil
}

// OpenSQLite opens (creating if needed) a SQLite database file and applies the schema
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite metric cache: %w", err)
	}
	// a single writer connection avoids SQLITE_BUSY under concurrent tier runs
	db.SetMaxOpenConns(1)

	s := NewSQLiteStore(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sqlite metric cache: %w", err)
	}
	return s, nil
}

// DB returns the underlying pool for health checks
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Backend names the SQL dialect in use
func (s *SQLStore) Backend() string {
	return s.dialect.name
}

// Migrations returns the schema migrations for this store's dialect
func (s *SQLStore) Migrations() []Migration {
	return s.dialect.migrations
}

// Migrate applies the schema. Statements are idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, tenantID string, kind metric.Kind) (*metric.Cached, error) {
	if err := validateKey(tenantID, kind); err != nil {
		return nil, err
	}
	now := s.opts.storedNow()

	var (
		value, metadata       []byte
		computedAt, expiresAt scanTime
	)
	err := s.db.QueryRowContext(ctx, s.dialect.get, tenantID, string(kind), s.dialect.encodeTime(now)).
		Scan(&value, &computedAt, &expiresAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached metric: %w", err)
	}

	meta, err := decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &metric.Cached{
		TenantID:   tenantID,
		Kind:       kind,
		Value:      json.RawMessage(value),
		ComputedAt: computedAt.t,
		ExpiresAt:  expiresAt.t,
		Metadata:   meta,
	}, nil
}

func (s *SQLStore) Put(ctx context.Context, tenantID string, kind metric.Kind, value json.RawMessage, ttl time.Duration, metadata map[string]interface{}) error {
	if err := validatePut(tenantID, kind, value, ttl); err != nil {
		return err
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	now := s.opts.storedNow()
	_, err = s.db.ExecContext(ctx, s.dialect.upsert,
		tenantID,
		string(kind),
		string(value),
		s.dialect.encodeTime(now),
		s.dialect.encodeTime(now.Add(ttl).Truncate(storedTimeResolution)),
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cached metric: %w", err)
	}
	return nil
}

func (s *SQLStore) Invalidate(ctx context.Context, tenantID string, kind metric.Kind) error {
	if err := validateKey(tenantID, kind); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.invalidate, tenantID, string(kind)); err != nil {
		return fmt.Errorf("failed to invalidate cached metric: %w", err)
	}
	return nil
}

func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.purge, s.dialect.encodeTime(s.opts.storedNow()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired metrics: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged metrics: %w", err)
	}
	return n, nil
}

// ListActiveTenants reads the tenants table unless a lister was injected
func (s *SQLStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	if s.opts.tenants != nil {
		return s.opts.tenants.ListActiveTenants(ctx)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.tenants)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// scanTime accepts TIMESTAMPTZ values and integer unix microseconds
type scanTime struct {
	t time.Time
}

func (st *scanTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		st.t = v.UTC()
	case int64:
		st.t = time.UnixMicro(v).UTC()
	case nil:
		st.t = time.Time{}
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}
