// Package middleware exposes HTTP middleware that admits requests carrying
// an access token issued when a login attempt authenticated.
//
// # Guards
//
//   - [RequireToken] verifies the Authorization bearer token and injects the
//     claims, readable with [ClaimsFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into a token check. Verification is
// delegated to a [TokenParser], normally the Engine.
//
// # What this package must NOT do
//
//   - Create tokens.
//   - Touch login attempts or the credential store.
package middleware
