// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Pipeline declaration registration
//   - Run triggering, status queries and cancellation
//   - Artifact retrieval
//   - Health checks
//   - Prometheus metrics
package http
