// Package prometheus renders engine counters and the step latency histogram
// in Prometheus text exposition format.
//
// Counter names are mfa_*_total; the histogram is mfa_step_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
