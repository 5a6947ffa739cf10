// Package metrics exposes the core's Prometheus metrics (cache, WAL,
// transactions, feedback/review, audit, knowledge graph) plus a Timer
// helper and an HTTP /health, /ready, /metrics surface.
package metrics
