// Package main hosts the archiver service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts an image on POST /upload and runs the
//     whole pipeline in the request, or queues it on POST /v1/jobs for the worker
//     pool. Health, readiness, and Prometheus metrics are served alongside.
//   - Pipeline: the Cloud Vision analyzer extracts text and the pages carrying
//     matching images. With matches, one browser session (chromedp or go-rod) is
//     opened for the run and each page is printed to PDF in order. Artifacts land
//     in the configured BlobStore (local/GCS/memory) and every outcome is appended
//     to the CSV manifest as soon as it is known.
//   - Fanout: when configured, each capture is published to Pub/Sub and written to
//     Postgres together with per-run bookkeeping.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
//
// Operational notes:
//   - Navigation is bounded by capture.navigation_timeout_seconds. A slow page is
//     stopped and archived as-is rather than failed.
//   - capture.domain_qps throttles repeat navigations to one host.
//   - A single failed URL never aborts the run; a dead browser does.
//
// Quick checklist:
//   - Configure env vars: ARCHIVER_SERVER_PORT or PORT, ARCHIVER_STORAGE_BACKEND,
//     ARCHIVER_VISION_CREDENTIALS_FILE (or ADC), ARCHIVER_DB_DSN and
//     ARCHIVER_PUBSUB_PROJECT_ID when persistence/fanout is wanted.
//   - Run the service: go run ./cmd/archiver -config config.yaml
//   - One-shot: go run ./cmd/archiver -image photo.jpg
package main
