// Package main hosts the fandomgw entrypoint: the API gateway and the scrape service.
//
// Architecture overview:
//   - Gateway: internal/gateway.Gateway forwards /api/{service}/... to the base URL configured for that service,
//     preserving method, headers, body, and query. Unknown services and unreachable backends answer 502 with a plain
//     text "Service <name> non disponible." body. CORS is open to every origin.
//   - Scrape service: internal/api.Server mounts /scrap. POST /scrap/ validates the URL, records a job, and enqueues it
//     on a bounded in-memory queue drained by a fixed worker pool (scrap.max_concurrent_jobs, default 1). The handler
//     blocks until its job finishes and answers with the crawler's JSON output.
//   - Crawl pipeline: each worker clears the job's artifact, runs the external crawler with an argument vector (never
//     a shell string), reads and validates the JSON it wrote, then mirrors it to the configured BlobStore
//     (memory/local/GCS) and publishes a completion event (in-memory or Pub/Sub).
//   - History: GET /scrap/history reads one level of category directories under scrap.results_dir and projects every
//     item onto a character record. Listings are cached with go-cache and dropped after every successful job.
//   - Extraction: POST /scrap/extract sends raw text, or a page fetched with Colly and reduced with goquery, to an
//     OpenAI-compatible completion endpoint and returns strict JSON. The optional watcher does the same whenever the
//     watched request file changes.
//   - Configuration & plumbing: Viper populates config from file and FANDOMGW_* env vars (PORT_GATEWAY, PORT_SCRAP,
//     OPENAI_API_KEY and OPENAI_BASE_URL are honored too); zap provides structured logging; Prometheus metrics are
//     exported on /metrics of both listeners.
//
// Operational notes:
//   - A client that disconnects does not cancel its crawl; the worker finishes and records the job.
//   - The process reacts to SIGINT/SIGTERM by draining both HTTP servers, then closing the queue and cloud clients.
//
// Quick checklist:
//   - Point crawler.project_dir at the crawler project (its .venv provides the scrapy executable) and
//     scrap.results_dir at the historical results tree.
//   - Run locally: go run ./cmd/fandomgw -config config.yaml, or -mode gateway / -mode scrap to split listeners.
package main
