// Package metriccache stores the last computed value of each (tenant, metric kind).
//
// # Overview
//
// A Store is a TTL-aware map with an atomic upsert. Rows past their expiry are
// treated as misses on read and removed by PurgeExpired. Four backends are
// provided:
//
//   - SQLStore over PostgreSQL (lib/pq) or SQLite (mattn/go-sqlite3), using
//     INSERT ... ON CONFLICT (tenant_id, metric_kind) DO UPDATE
//   - RedisStore, one hash per key written with HSET and PEXPIREAT in MULTI/EXEC
//   - MemoryStore, a bounded LRU for single process deployments and tests
//
// Resilient wraps any of them with Prometheus instrumentation and turns read
// failures into misses so the caller recomputes.
//
// # Usage Example
//
//	store, err := metriccache.Open(ctx, cfg.Cache, logger, metrics,
//		metriccache.WithTenantLister(events))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Put(ctx, "tenant-a", metric.KindPopularContentDaily, raw, 20*time.Minute,
//		map[string]interface{}{"source": "fast_tier"})
//
//	row, err := store.Get(ctx, "tenant-a", metric.KindPopularContentDaily)
//	if errors.Is(err, metriccache.ErrNotFound) {
//		// recompute
//	}
//
// # Related Packages
//
//   - pkg/dashboard: cache-aside reads
//   - pkg/scheduler: tiered refresh and purge
package metriccache
