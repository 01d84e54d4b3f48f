// Package observability provides metrics extensions for conduct. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for run, task, throttle, and dependency-wait events.
//
// For per-iteration tracing and metrics, see the hook package:
// hook.Tracing() and hook.Metrics().
package observability
