package metriccache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/beacon/pkg/metric"
)

// DefaultMemorySize bounds the in-process store
const DefaultMemorySize = 10000

type memoryKey struct {
	tenantID string
	kind     metric.Kind
}

// MemoryStore is a bounded in-process Store. When full, the least recently
// used row is evicted, which callers observe as a miss.
type MemoryStore struct {
	cache *lru.Cache[memoryKey, metric.Cached]
	opts  options

	// serializes writers so purge can compare-and-delete
	mu sync.Mutex
}

// NewMemoryStore creates an in-process store holding at most size rows
func NewMemoryStore(size int, opts ...Option) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	cache, err := lru.New[memoryKey, metric.Cached](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &MemoryStore{cache: cache, opts: buildOptions(opts)}, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID string, kind metric.Kind) (*metric.Cached, error) {
	if err := validateKey(tenantID, kind); err != nil {
		return nil, err
	}
	row, ok := s.cache.Get(memoryKey{tenantID, kind})
	if !ok || row.Expired(s.opts.clock.Now()) {
		return nil, ErrNotFound
	}
	return copyCached(row), nil
}

func (s *MemoryStore) Put(ctx context.Context, tenantID string, kind metric.Kind, value json.RawMessage, ttl time.Duration, metadata map[string]interface{}) error {
	if err := validatePut(tenantID, kind, value, ttl); err != nil {
		return err
	}
	// round-trip metadata so stored rows never alias caller maps
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	decoded, err := decodeMetadata(meta)
	if err != nil {
		return err
	}

	now := s.opts.clock.Now()
	row := metric.Cached{
		TenantID:   tenantID,
		Kind:       kind,
		Value:      append(json.RawMessage(nil), value...),
		ComputedAt: now,
		ExpiresAt:  now.Add(ttl),
		Metadata:   decoded,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(memoryKey{tenantID, kind}, row)
	return nil
}

func (s *MemoryStore) Invalidate(ctx context.Context, tenantID string, kind metric.Kind) error {
	if err := validateKey(tenantID, kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(memoryKey{tenantID, kind})
	return nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.opts.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for _, key := range s.cache.Keys() {
		row, ok := s.cache.Peek(key)
		if ok && row.Expired(now) {
			s.cache.Remove(key)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	if s.opts.tenants == nil {
		return nil, ErrNoTenantLister
	}
	return s.opts.tenants.ListActiveTenants(ctx)
}

// Len reports the number of rows held, live or expired
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}

func copyCached(row metric.Cached) *metric.Cached {
	out := row
	out.Value = append(json.RawMessage(nil), row.Value...)
	if row.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(row.Metadata))
		for k, v := range row.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
