// Package observability provides structured logging and metrics for the
// risk enforcement service.
//
// This package implements:
//   - Environment-aware zap logger construction
//   - Prometheus metric collectors for the enforcement cycle
//
// Metric collectors accept any prometheus.Registerer so tests can pass an
// isolated registry, or nil for a throwaway one.
package observability
