// Package scheduler refreshes cached metrics on three independent cadences.
//
// # Overview
//
// Each Tier owns a fixed set of metric kinds:
//
//	fast    */15 * * * *   popular_content_daily                                   TTL 20m
//	medium  0 * * * *      engagement_consistency, commitment_score                TTL 70m
//	slow    0 */6 * * *    aha_moments, content_pathways, feedback_themes          TTL 6h
//
// A run lists active tenants, fans out across them with a bounded worker
// count, computes the tier's kinds per tenant concurrently and overwrites the
// cached rows unconditionally. A failing tenant is recorded in the Summary and
// never stops the others. The slow tier purges expired rows before it
// recomputes.
//
// Runs are idempotent and self-contained, so they can be driven by the
// in-process Cron, the beacon-scheduler binary or the HTTP trigger endpoint.
//
// # Usage Example
//
//	runner := scheduler.NewRunner(store, calcs,
//		scheduler.WithLogger(logger),
//		scheduler.WithMetrics(metrics))
//
//	summary := runner.RunFast(ctx)
//	fmt.Printf("%d/%d tenants refreshed\n", summary.Processed, summary.Total)
//
//	c, err := scheduler.NewCron(runner, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	c.Start(ctx)
//	defer c.Stop()
package scheduler
