// Package observability provides OpenTelemetry-based lifecycle metrics for
// queuectl. The MetricsExtension implements lifecycle hooks to record
// queue-wide counters for enqueue, claim, completion, failure, retry, DLQ
// and replay events.
//
// For per-run tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
