// Package observability provides an OpenTelemetry metrics extension for
// the notifier. MetricsExtension implements the lifecycle hooks and
// records system-wide counters for enqueue, delivery, retry, failure,
// cancellation and conflict events, labelled by channel.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
