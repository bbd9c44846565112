// Package securityproject is a multi-factor authentication engine that
// enrolls users with a password, a voice print, a face template and a phone
// number, then authenticates them through four ordered steps: password,
// voice, face and a one-time code sent to the enrolled phone.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// securityproject is the public surface. It exposes [Engine], [Builder],
// [Config], [CredentialStore] and value types ([UserRecord], [StepResult],
// [AttemptView]). Step ordering lives in package session; matching lives in
// password, biometric/face and biometric/voice; code delivery in otp.
// Devices are driven by package capture, which this package never imports.
//
// # Login attempts
//
// [Engine.BeginLogin] opens an attempt. Each step method takes the attempt ID
// and either passes the step, fails it, or returns an error that leaves it
// untouched (capture problems, backend outages, cancellation). Steps must run
// in order: a step attempted before every earlier step passed fails with
// [ErrStepOutOfOrder]. A failed step may be retried until the attempt's
// failure budget is spent. The attempt is authenticated only when all four
// steps passed.
//
// # What this package must NOT do
//
//   - Put password hashes, templates or OTP codes in errors, logs or audit events.
//   - Import any sub-package that re-imports securityproject (store/*, cmd/*).
//   - Persist login attempts; they live in process memory until they end.
package securityproject
