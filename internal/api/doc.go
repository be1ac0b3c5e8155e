// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/harvests to queue a harvest for an entity.
//   - GET /v1/jobs/{job_id} for job status.
//   - GET /v1/entities/{entity_name}/state for stored phase state.
package api
