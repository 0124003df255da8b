package metriccache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/beacon/pkg/metric"
)

// DefaultRedisKeyPrefix namespaces metric cache keys
const DefaultRedisKeyPrefix = "beacon:metric:"

const (
	fieldValue      = "value"
	fieldComputedAt = "computed_at"
	fieldExpiresAt  = "expires_at"
	fieldMetadata   = "metadata"
)

// purgeScript deletes a key only if it is still expired at ARGV[1], so a row
// rewritten between SCAN and DEL survives.
var purgeScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if exp and tonumber(exp) <= tonumber(ARGV[1]) then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	KeyPrefix  string
}

// RedisStore keeps one hash per (tenant, kind). Put writes the hash and its
// PEXPIREAT inside MULTI/EXEC so readers never see a half written row.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   options
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, opts: buildOptions(opts)}
}

// OpenRedis connects to Redis and verifies the connection
func OpenRedis(ctx context.Context, cfg RedisConfig, opts ...Option) (*RedisStore, error) {
	ropts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		ropts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		ropts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		ropts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		ropts.PoolSize = cfg.PoolSize
	}
	ropts.DialTimeout = 5 * time.Second
	ropts.ReadTimeout = 3 * time.Second
	ropts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, cfg.KeyPrefix, opts...), nil
}

// Client returns the underlying client for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(tenantID string, kind metric.Kind) string {
	return s.prefix + tenantID + ":" + string(kind)
}

func (s *RedisStore) Get(ctx context.Context, tenantID string, kind metric.Kind) (*metric.Cached, error) {
	if err := validateKey(tenantID, kind); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, s.key(tenantID, kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	expiresAt, err := parseMicros(fields[fieldExpiresAt])
	if err != nil {
		return nil, err
	}
	if !expiresAt.After(s.opts.storedNow()) {
		return nil, ErrNotFound
	}
	computedAt, err := parseMicros(fields[fieldComputedAt])
	if err != nil {
		return nil, err
	}
	meta, err := decodeMetadata([]byte(fields[fieldMetadata]))
	if err != nil {
		return nil, err
	}

	return &metric.Cached{
		TenantID:   tenantID,
		Kind:       kind,
		Value:      json.RawMessage(fields[fieldValue]),
		ComputedAt: computedAt,
		ExpiresAt:  expiresAt,
		Metadata:   meta,
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, tenantID string, kind metric.Kind, value json.RawMessage, ttl time.Duration, metadata map[string]interface{}) error {
	if err := validatePut(tenantID, kind, value, ttl); err != nil {
		return err
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	now := s.opts.storedNow()
	expiresAt := now.Add(ttl).Truncate(storedTimeResolution)
	key := s.key(tenantID, kind)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			fieldValue:      string(value),
			fieldComputedAt: now.UnixMicro(),
			fieldExpiresAt:  expiresAt.UnixMicro(),
			fieldMetadata:   string(meta),
		})
		// PEXPIREAT has millisecond precision; round up so Redis never
		// evicts before expires_at
		pipe.PExpireAt(ctx, key, expiresAt.Add(time.Millisecond-1).Truncate(time.Millisecond))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, tenantID string, kind metric.Kind) error {
	if err := validateKey(tenantID, kind); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(tenantID, kind)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// PurgeExpired removes rows whose expires_at has passed. Redis usually evicts
// them first via PEXPIREAT; this catches keys whose server clock lags ours.
func (s *RedisStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(s.opts.storedNow().UnixMicro(), 10)

	var (
		cursor uint64
		purged int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return purged, fmt.Errorf("redis scan failed: %w", err)
		}
		for _, key := range keys {
			n, err := purgeScript.Run(ctx, s.client, []string{key}, now).Int64()
			if err != nil {
				return purged, fmt.Errorf("redis purge failed for %s: %w", key, err)
			}
			purged += n
		}
		if next == 0 {
			return purged, nil
		}
		cursor = next
	}
}

func (s *RedisStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	if s.opts.tenants == nil {
		return nil, ErrNoTenantLister
	}
	return s.opts.tenants.ListActiveTenants(ctx)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseMicros(v string) (time.Time, error) {
	us, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return time.UnixMicro(us).UTC(), nil
}
