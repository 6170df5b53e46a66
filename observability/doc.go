// Package observability provides an OpenTelemetry metrics extension for
// docbatch. MetricsExtension implements lifecycle hooks to record
// system-wide counters for batch creation, queueing, completion,
// cancellation and per-file outcomes, plus a batch duration histogram.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
