// Package security summarizes the security posture of an engine
// configuration: hash strength, biometric thresholds, token signing and
// throttling. The root package fills a ReportInput from its Config and
// runtime wiring; the report is read-only.
package security
