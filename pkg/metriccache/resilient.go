package metriccache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/platinummonkey/beacon/pkg/metric"
	"github.com/platinummonkey/beacon/pkg/observability"
)

// Resilient decorates a Store with metrics and degraded reads. A backend read
// failure is logged and reported as a miss so callers fall through to
// recomputation. Write failures are returned unchanged.
type Resilient struct {
	Store
	backend string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResilient wraps store. logger and metrics may be nil.
func NewResilient(store Store, backend string, logger *observability.Logger, metrics *observability.Metrics) *Resilient {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resilient{Store: store, backend: backend, logger: logger, metrics: metrics}
}

// Backend names the wrapped store
func (r *Resilient) Backend() string {
	return r.backend
}

// Unwrap returns the wrapped store
func (r *Resilient) Unwrap() Store {
	return r.Store
}

func (r *Resilient) Get(ctx context.Context, tenantID string, kind metric.Kind) (*metric.Cached, error) {
	start := time.Now()
	row, err := r.Store.Get(ctx, tenantID, kind)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.metrics.ObserveCacheOp("get", r.backend, start, err)
		if r.metrics != nil {
			r.metrics.CacheDegradedReadsTotal.WithLabelValues(r.backend).Inc()
		}
		r.logger.WithFields(map[string]interface{}{
			"tenant_id":   tenantID,
			"metric_kind": string(kind),
			"backend":     r.backend,
		}).WithError(err).Warn("Metric cache read failed, treating as miss")
		r.countMiss(kind)
		return nil, ErrNotFound
	}
	r.metrics.ObserveCacheOp("get", r.backend, start, nil)

	if err != nil {
		r.countMiss(kind)
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.CacheHitsTotal.WithLabelValues(string(kind)).Inc()
	}
	return row, nil
}

func (r *Resilient) countMiss(kind metric.Kind) {
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.WithLabelValues(string(kind)).Inc()
	}
}

func (r *Resilient) Put(ctx context.Context, tenantID string, kind metric.Kind, value json.RawMessage, ttl time.Duration, metadata map[string]interface{}) error {
	start := time.Now()
	err := r.Store.Put(ctx, tenantID, kind, value, ttl, metadata)
	r.metrics.ObserveCacheOp("upsert", r.backend, start, err)
	return err
}

func (r *Resilient) Invalidate(ctx context.Context, tenantID string, kind metric.Kind) error {
	start := time.Now()
	err := r.Store.Invalidate(ctx, tenantID, kind)
	r.metrics.ObserveCacheOp("invalidate", r.backend, start, err)
	return err
}

func (r *Resilient) PurgeExpired(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := r.Store.PurgeExpired(ctx)
	r.metrics.ObserveCacheOp("purge", r.backend, start, err)
	if r.metrics != nil && n > 0 {
		r.metrics.CachePurgedTotal.WithLabelValues(r.backend).Add(float64(n))
	}
	return n, err
}
