// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle with panic recovery, timeout
// enforcement and context cancellation.
//
// # Key Functions
//
// SafeGo: fire-and-forget work whose failures are logged, never raised
//
//	async.SafeGo(context.Background(), logger, 2*time.Minute, "slow tier", func(ctx context.Context) error {
//		return trigger(ctx)
//	})
//
// Batch: bounded fan-out over a slice with per-item outcomes
//
//	errs := async.Batch(ctx, tenants, 8, 30*time.Second, func(ctx context.Context, tenant string) error {
//		return refresh(ctx, tenant)
//	})
//
// # Related Packages
//
//   - pkg/scheduler: fans tier runs out across tenants with Batch
//   - pkg/api: runs asynchronous tier triggers with SafeGo
package async
