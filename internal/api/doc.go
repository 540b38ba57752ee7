// Package api hosts the operator HTTP surface for the crawler service.
// Routes:
//   - GET /healthz and /readyz for liveness and dependency probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the last pass and whether one is running.
//   - POST /v1/runs to start a pass out of schedule.
//   - GET /v1/identities for proxy pool statistics.
package api
