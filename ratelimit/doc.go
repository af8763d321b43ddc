// Package ratelimit provides a fixed-window failure limiter that satisfies
// authcore.Limiter over any store.CounterStore.
//
// # Architecture boundaries
//
// The limiter owns key naming and window arithmetic only. Counter storage
// and atomic increment semantics belong to the store.CounterStore
// implementation (for example store/redisstore.Counters).
//
// # What this package must NOT do
//
//   - Return errors other than authcore rate-limit errors for denials.
//   - Hold per-key state in process memory.
package ratelimit
