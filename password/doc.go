// Package password implements password hashing, verification and the
// account password policy.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification also accepts bcrypt hashes ($2a$, $2b$, $2y$) imported from
// older systems. [Argon2.NeedsUpgrade] reports true for those and for argon2id
// hashes produced with weaker parameters, so the caller can re-hash on the
// next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
