// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - CLI: `harvester harvest --entity NAME [--phase download|ocr|all]` runs one harvest in-process and prints the
//     JSON result; `harvester state --entity NAME` prints stored phase state; `harvester serve` starts the API.
//   - Pipeline: internal/coordinator runs the download phase (internal/crawl walking START, LISTING and DETAIL pages
//     through the Colly fetcher and storing each document) and the OCR phase (internal/ocr converting stored PDFs).
//     Each phase is checkpointed in the configured StateStore so an interrupted harvest resumes where it stopped.
//   - Storage: state and documents live in memory, on local disk, in GCS, or (state only) in Postgres, selected by
//     storage.state_backend and storage.blob_backend.
//   - Service: internal/api accepts POST /v1/harvests, records jobs, and hands them to a bounded in-memory queue that
//     internal/dispatcher fans out to internal/worker. Completion events go to Pub/Sub when pubsub.project_id is set.
//   - Plumbing: Viper loads config from file and HARVESTER_* env vars; zap provides structured logging; Prometheus
//     metrics are served on /metrics.
//
// Quick checklist:
//   - Run locally: go run ./cmd/harvester harvest --entity "Example a.s." --config config.yaml
//   - OCR needs HARVESTER_OCR_API_KEY; without it only the download phase is available.
//   - The process reacts to SIGINT/SIGTERM; in-flight phases stop and resume on the next run.
package main
