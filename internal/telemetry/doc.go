// Package telemetry sets up OpenTelemetry tracing and metrics for popguard.
//
// New installs OTLP tracer and meter providers as the otel globals, so the
// decision and learning packages, which resolve their instruments through
// otel.Meter and otel.Tracer, export without further wiring. TestTelemetry
// provides in-memory providers for tests.
package telemetry
