// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/lanes for per-lane registry sizes.
//   - GET /v1/lanes/{lane}/failed and POST .../{job_id}/requeue for
//     inspecting and retrying failed jobs.
package api
