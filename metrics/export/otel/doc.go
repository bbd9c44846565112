// Package otel binds engine metrics to OpenTelemetry observable instruments.
//
// Each counter becomes an Int64ObservableCounter. The step latency histogram
// is published as a cumulative bucket gauge keyed by an "le" attribute plus a
// count gauge. One callback reads [securityproject.Engine.MetricsSnapshot]
// per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
