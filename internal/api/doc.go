// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /upload runs the full pipeline synchronously for one image.
//   - POST /v1/jobs queues an image; GET /v1/jobs/{job_id}/status and /result
//     report on it.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
