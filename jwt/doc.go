// Package jwt issues and parses the signed tokens handed to clients.
//
// Two kinds of token share one claim set. Access tokens carry the account
// role and authorize API calls. Pending tokens carry the "2fa" purpose and
// are only good for completing a second-factor challenge; ParseAccess
// refuses them. Every token carries a unique jti so it can be revoked
// through a denylist before it expires.
//
// HS256 and Ed25519 are supported. Setting VerifyKeys enables kid-based key
// rotation.
package jwt
