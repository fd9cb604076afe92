// Package observability provides the structured logger, Prometheus
// metrics, health probes, and OpenTelemetry wiring shared by the proxy.
package observability
