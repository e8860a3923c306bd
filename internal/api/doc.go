// Package api hosts the HTTP server, middleware, and REST handlers for the
// crawl service. Notable routes:
//   - POST {base}/crawl to submit a crawl (rate limited per client).
//   - GET {base}/tasks and {base}/tasks/{task_id} for status polling.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
