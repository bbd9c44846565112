// Package jwt issues the signed access token handed out once a login attempt
// reaches the authenticated state, and verifies it with strict algorithm,
// issuer, audience and key-id checks.
package jwt
