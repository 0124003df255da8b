// Package calculators derives the six dashboard metrics from a tenant's raw
// event history.
//
// Every calculator reads through an eventstore.Accessor scoped to a single
// tenant, over a bounded window anchored at the injected clock's "now". On
// insufficient data it returns the kind's documented empty result. On accessor
// failure it logs and returns the empty result together with the error, so
// callers can decide whether to cache.
//
//	set := calculators.NewSet(store, clockwork.NewRealClock(), logger, metrics)
//	calc, _ := set.For(metric.KindCommitmentScore)
//	res, err := calc(ctx, tenantID)
package calculators
