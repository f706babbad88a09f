// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/visit and /v1/quick-index for homepage indexing.
//   - POST /v1/crawls and GET /v1/crawls/status for background crawls.
//   - POST /v1/chat for streamed answers, which bypasses the request timeout.
//   - POST /v1/context/clear and GET /v1/debug/... for operators.
package api
