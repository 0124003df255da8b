// Package dashboard serves tenant metrics cache-aside.
//
// # Overview
//
// GetOrCompute returns a live cached row when one exists. On a miss it runs the
// kind's calculator under its tier's timeout, stores the result with
// source=on_demand and returns it. A failed computation yields the kind's empty
// result and is never cached, so the next read tries again.
//
// Dashboard issues all six reads concurrently and merges them into one view,
// listing any kind that fell back to its empty result in Degraded.
//
// # Usage Example
//
//	svc := dashboard.NewService(store, calcs, dashboard.WithLogger(logger))
//
//	d := svc.Dashboard(ctx, "tenant-a")
//	fmt.Println(d.PopularContent.TotalEngagements)
//
//	res, ok := svc.GetOrCompute(ctx, "tenant-a", metric.KindCommitmentScore, 70*time.Minute)
//
// # Related Packages
//
//   - pkg/metriccache: the store both read paths share
//   - pkg/scheduler: refreshes the same rows on a schedule
package dashboard
