// Package auth verifies callers of the bridge.
//
// Client routes carry a bearer JWT issued by the identity provider; the token
// is verified with HS256 (shared project secret), RS256 with a static PEM key,
// or RS256 against a cached JWKS endpoint, and yields the caller's user id and
// email. Device routes may optionally present a per-device key that is checked
// against a bcrypt hash from configuration.
package auth
