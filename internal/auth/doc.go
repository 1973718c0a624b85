// Package auth supplies and checks the bearer tokens Otto streams carry.
//
// # Credential Providers
//
// The session controller reads its token from a CredentialProvider exactly
// once when a session starts:
//
//   - StaticToken:  a fixed token, mostly for tests
//   - EnvFileToken: OTTO_TOKEN, then $XDG_CONFIG_HOME/otto/token
//   - JWTGuard:     wraps another provider and rejects expired JWTs before
//     a request is sent
//
// Providers can be chained with First.
//
// # Token Verification
//
// JWTVerifier signs and verifies HS256 tokens carrying a subject and a
// tenant_id claim. The fake backend uses it to authenticate stream requests.
package auth
