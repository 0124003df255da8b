// Package api exposes dashboard metrics and tier controls over HTTP.
//
// # Routes
//
//	GET    /v1/tenants/{tenant}/dashboard       all six metrics, computed on miss
//	GET    /v1/tenants/{tenant}/metrics/{kind}  one metric; ?ttl=20m overrides the tier TTL
//	DELETE /v1/tenants/{tenant}/metrics/{kind}  drop the cached row
//	GET    /v1/tiers                            configured tiers
//	POST   /v1/tiers/{tier}/run                 run a tier now; ?async=true returns 202
//	GET    /healthz, /readyz, /metrics
//
// Tenant identity comes from the path. Authentication is expected in front of
// this service.
//
// # Usage Example
//
//	srv := api.NewServer(svc, runner,
//		api.WithHealthChecker(health),
//		api.WithMetrics(metrics),
//		api.WithLogger(logger))
//	http.ListenAndServe(":8080", srv)
package api
