// Package middleware adapts authcore access-token verification to net/http.
//
// [Guard] reads the bearer token from the Authorization header, verifies it
// through authcore.TokenIssuer and stores the claims in the request context.
// [RequireRole] narrows a guarded route to a set of roles.
//
// # What this package must NOT do
//
//   - Parse or sign JWTs itself.
//   - Decide anything beyond pass or reject from the verifier's answer.
package middleware
