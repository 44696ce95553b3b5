// Package api hosts the scrape service HTTP server. Notable routes:
//   - POST /scrap/ runs one crawl for {"url": ...} and returns its output.
//   - GET /scrap/history lists stored results plus their character projection.
//   - GET /scrap/jobs/{job_id} reports one job record.
//   - GET /scrap/compare?ids=a,b lines up two characters.
//   - POST /scrap/extract turns {"text"} or {"url"} into structured JSON.
//   - GET /healthz, /readyz, and /metrics for probes and Prometheus.
package api
