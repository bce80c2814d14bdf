// Package main hosts the sitefeeder service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, crawl, sync,
//     domain management and search endpoints. Crawls triggered over HTTP run
//     in the background and report progress through the crawl log and stats.
//   - Frontier: internal/frontier.Manager walks each registered domain
//     breadth-first, batching fetches by the configured concurrency with a
//     delay between batches. Seeds come from the domain base URL plus its
//     sitemap when enabled; robots.txt with a blanket disallow aborts the
//     crawl before any page is fetched.
//   - Fetch pipeline: the Colly-based fetcher performs single GETs with
//     redirect tracking. A TLS handshake failure on an https URL is retried
//     exactly once against the http downgrade, and the session base URL is
//     downgraded alongside so relative links keep resolving.
//   - Extraction: HTML bodies are reduced to text and link sets via
//     goquery; PDFs run through a tiered extractor (text layer, layout
//     engine, then OCR over rasterized pages) before persistence.
//   - Persistence & indexing: pages land in Postgres (or an in-memory store
//     for local runs) keyed by URL with checksum-based change detection.
//     Changed pages are queued for chunking and indexing into Elasticsearch
//     by the embedding queue, which batches work and retries transient
//     failures with backoff. Raw artifacts are archived to GCS, local disk
//     or memory, and crawl completion events fan out over Pub/Sub when a
//     project is configured.
//   - Configuration & plumbing: Viper populates config from env/files with
//     the SITEFEEDER_ prefix; zap provides structured logging; Prometheus
//     metrics are exported on /metrics.
//
// Operational notes:
//   - Concurrency model: per-domain crawl sessions fetch in bounded batches;
//     the embedding queue drains on a single consumer goroutine so index
//     writes never contend. Shutdown is coordinated via context cancellation
//     from main; the queue drains pending work within its grace period.
//   - At most one crawl runs per domain at a time; concurrent crawl requests
//     for the same domain are rejected with 409.
//   - Run locally: go run ./cmd/sitefeeder -config config.yaml (or rely
//     solely on SITEFEEDER_* env overrides).
package main
