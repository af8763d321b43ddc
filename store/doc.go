// Package store defines the persistence records and interfaces consumed by the
// authcore engine.
//
// # Design
//
// Every operation that must be atomic is a single interface method: refresh
// rotation, verification attempt increments, backup-code consumption and
// account+associate creation. Implementations provide the atomicity through a
// transaction, a conditional update, or a server-side script; callers never
// compose read-then-write sequences for these.
//
// # What this package must NOT do
//
//   - Import authcore or any implementation package.
//   - Hold plaintext secrets. Every secret-bearing field is a hex-encoded hash.
package store
