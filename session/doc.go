// Package session holds the ephemeral per-attempt login state and the guarded
// transition function that enforces step ordering.
//
// # Lifecycle
//
// An [AuthSession] is created when the password step begins and lives in a
// [Registry] until it reaches a terminal outcome or its TTL lapses. Sessions
// are process-local: they are never persisted and never shared between attempts.
//
// # Architecture boundaries
//
// This package owns the state machine only. It does NOT verify passwords,
// compare biometric templates, or talk to OTP providers; the Engine performs
// those checks and reports the outcome through [AuthSession.Pass] and
// [AuthSession.Fail].
//
// # What this package must NOT do
//
//   - Import the root package, store, or any matcher (no upward imports).
//   - Hold password hashes, biometric templates, or OTP codes.
package session
