// Package internal holds the private plumbing of the engine and its commands.
//
// # Sub-packages
//
//   - app: wires config, stores, redis, sidecars and exporters into an Engine
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: layered TOML, .env and environment configuration for the commands
//   - logging: zap logger construction
//   - rate: Redis-backed password and OTP send budgets
//   - security: posture report over an engine configuration
//   - telemetry: OpenTelemetry provider setup
//
// # What this package must NOT do
//
//   - Export types that appear in the public securityproject API.
//   - Be imported by any package outside the securityproject module.
package internal
