// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /api and /api/image.jpg for the welcome message and the current image.
//   - GET /api/status and /api/history for refresh state and past attempts.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /* for the static frontend, when its directory exists.
package api
