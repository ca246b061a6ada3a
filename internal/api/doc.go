// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/channels/{handle} returns the cached snapshot of a channel.
//   - GET /v1/stats, POST /v1/gifts and POST /v1/subscriptions/{user_id}/grant
//     run entitlement administration as the system principal.
//
// Every /v1 route requires X-API-Key (or ?api_key) and answers 403 while no
// key is configured.
package api
