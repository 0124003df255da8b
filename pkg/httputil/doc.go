// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteAccepted(w, summary)
//	httputil.WriteBadRequest(w, "unknown metric kind")
//	httputil.WriteNotFoundError(w, "unknown tier")
//
// Error bodies have the form {"error": "...", "request_id": "..."}.
//
// # Request Parsing
//
//	tenant, ok := httputil.ParsePathStringOrError(w, r, "tenant")
//	if !ok {
//		return // Error response already written
//	}
//	ttl, err := httputil.ParseQueryDuration(r, "ttl", 0)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
