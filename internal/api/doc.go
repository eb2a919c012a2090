// Package api hosts the operator HTTP server that runs beside a crawl.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz reports the live
//     crawl state and fails once the run has faulted.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for the crawl run ledger via the
//     jobs.RunReader interface.
package api
