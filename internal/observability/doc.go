// Package observability provides structured logging, metrics, and tracing
// for the governance pipeline.
//
// Logging is zap based. Metrics are Prometheus collectors registered against a
// caller supplied registerer. Tracing goes through the global OpenTelemetry
// tracer provider, which is a no-op until the binary installs one.
package observability
