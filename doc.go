// Package authcore is the authentication core of a backend: password
// hashing, signed access tokens, rotating opaque refresh tokens, TOTP
// second factor with backup codes, one-time email and phone verification
// codes, and the session flows that compose them.
//
// Components are assembled by [Builder.Build] around a store.CredentialStore
// and are safe for concurrent use afterwards.
//
// # Architecture boundaries
//
// authcore is the public surface: [Auth], [Builder], [Config], the
// component types and the typed [*Error]. Persistence lives behind the
// store package; signing, hashing and code generation live in jwt,
// password and internal/otp.
//
// # What this package must NOT do
//
//   - Persist a raw secret. Refresh tokens, backup codes and verification
//     codes are stored as hashes only.
//   - Import a sub-package that re-imports authcore.
//   - Call an identity provider without a deadline.
package authcore
