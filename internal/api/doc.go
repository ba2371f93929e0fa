// Package api hosts the HTTP server for the catalog service. Notable routes:
//   - GET|POST /db/sync-all runs a full crawl of the A-Z index.
//   - GET|POST /db/sync-rss and /db/sync run a feed-based incremental sync.
//   - GET /db/list returns a filtered page of releases as JSON.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
