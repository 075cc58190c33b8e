// Package observability provides the operational plumbing shared by the
// telemetry engine and the maintenance daemon: structured JSON logging,
// Prometheus metrics, optional OpenTelemetry export, health probes, and
// graceful shutdown coordination.
//
// The engine itself only depends on Logger and Metrics; everything else
// is wiring for cmd/telemetryd.
package observability
