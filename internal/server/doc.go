// Package server exposes the read-only HTTP status API: health, the
// current engine snapshot, the effective configuration and Prometheus
// metrics.
package server
