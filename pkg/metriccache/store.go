package metriccache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

var (
	// ErrNotFound is returned by Get when no live row exists for the key
	ErrNotFound = errors.New("metric not cached")
	// ErrNoTenantLister is returned when a store cannot resolve active tenants
	ErrNoTenantLister = errors.New("no tenant lister configured")
)

// Store is a TTL-aware map from (tenant, metric kind) to the last computed value.
// Put is an atomic upsert: at most one row exists per key.
type Store interface {
	// Get returns the live row for the key or ErrNotFound. Expired rows are misses.
	Get(ctx context.Context, tenantID string, kind metric.Kind) (*metric.Cached, error)
	// Put replaces the row for the key, expiring it ttl after now
	Put(ctx context.Context, tenantID string, kind metric.Kind, value json.RawMessage, ttl time.Duration, metadata map[string]interface{}) error
	// Invalidate deletes the row for the key unconditionally
	Invalidate(ctx context.Context, tenantID string, kind metric.Kind) error
	// PurgeExpired deletes every row with expiresAt <= now and returns how many were removed
	PurgeExpired(ctx context.Context) (int64, error)
	// ListActiveTenants returns tenants eligible for scheduled recomputation
	ListActiveTenants(ctx context.Context) ([]string, error)
	Close() error
}

// Option configures a store
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	tenants eventstore.TenantLister
}

// WithClock sets the clock used for expiry; defaults to the real clock
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithTenantLister sets where ListActiveTenants reads from
func WithTenantLister(l eventstore.TenantLister) Option {
	return func(o *options) {
		o.tenants = l
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// storedTimeResolution is the precision the SQL and Redis stores persist
// timestamps at. Their clock readings are truncated to it so the expiry check
// compares values of the same precision.
const storedTimeResolution = time.Microsecond

func (o options) storedNow() time.Time {
	return o.clock.Now().Truncate(storedTimeResolution)
}

func validateKey(tenantID string, kind metric.Kind) error {
	if tenantID == "" {
		return errors.New("tenant id is required")
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", metric.ErrUnknownKind, kind)
	}
	return nil
}

func validatePut(tenantID string, kind metric.Kind, value json.RawMessage, ttl time.Duration) error {
	if err := validateKey(tenantID, kind); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	if !json.Valid(value) {
		return errors.New("value must be valid JSON")
	}
	return nil
}

func encodeMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}
