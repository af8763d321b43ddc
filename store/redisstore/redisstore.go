// Package redisstore provides Redis-backed implementations of the
// store.Denylist and store.CounterStore interfaces.
//
// Denylist entries live under "adl:<jti>" with a TTL equal to the remaining
// lifetime of the denylisted token, so Redis expires them on its own.
// Counters live under "<prefix>:<key>" and follow fixed-window semantics:
// the TTL is armed by the first increment of a window and never extended.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/store"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

const denylistPrefix = "adl:"

// Denylist is a store.Denylist over Redis.
type Denylist struct {
	redis redis.UniversalClient
}

var _ store.Denylist = (*Denylist)(nil)

// NewDenylist returns a Denylist using rdb.
func NewDenylist(rdb redis.UniversalClient) *Denylist {
	return &Denylist{redis: rdb}
}

// UpsertDenylistEntry stores the entry until the token would have expired.
// Entries for already expired tokens are not written.
func (d *Denylist) UpsertDenylistEntry(ctx context.Context, entry store.DenylistEntry) error {
	ttl := entryTTL(entry)
	if ttl <= 0 {
		return nil
	}
	if err := d.redis.Set(ctx, denylistPrefix+entry.JTI, entryValue(entry), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ClaimDenylistEntry stores the entry with SET NX. An already expired entry
// cannot be claimed.
func (d *Denylist) ClaimDenylistEntry(ctx context.Context, entry store.DenylistEntry) (bool, error) {
	ttl := entryTTL(entry)
	if ttl <= 0 {
		return false, nil
	}
	ok, err := d.redis.SetNX(ctx, denylistPrefix+entry.JTI, entryValue(entry), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// entryTTL measures the remaining token lifetime from the entry's own
// CreatedAt, so injected clocks carry over. Entries without one fall back to
// the wall clock.
func entryTTL(entry store.DenylistEntry) time.Duration {
	if entry.CreatedAt.IsZero() {
		return time.Until(entry.ExpiresAt)
	}
	return entry.ExpiresAt.Sub(entry.CreatedAt)
}

func entryValue(entry store.DenylistEntry) string {
	return entry.AccountID + "|" + entry.Reason
}

// IsDenylisted reports whether jti has a live entry. now is ignored; Redis
// expiry is authoritative.
func (d *Denylist) IsDenylisted(ctx context.Context, jti string, _ time.Time) (bool, error) {
	n, err := d.redis.Exists(ctx, denylistPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// PurgeExpiredDenylist is a no-op; Redis expires entries itself.
func (d *Denylist) PurgeExpiredDenylist(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var incrementLua = redis.NewScript(`
local v = redis.call("INCR", KEYS[1])
if v == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`)

// Counters is a store.CounterStore over Redis.
type Counters struct {
	redis  redis.UniversalClient
	prefix string
}

var _ store.CounterStore = (*Counters)(nil)

// NewCounters returns counters namespaced under prefix.
func NewCounters(rdb redis.UniversalClient, prefix string) *Counters {
	if prefix == "" {
		prefix = "ac"
	}
	return &Counters{redis: rdb, prefix: prefix}
}

func (c *Counters) key(k string) string {
	return c.prefix + ":" + k
}

// Get returns the counter value, zero when absent.
func (c *Counters) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.redis.Get(ctx, c.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return v, nil
}

// Set overwrites the counter. A zero ttl keeps the key forever.
func (c *Counters) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Increment adds one atomically, arming ttl on the first hit of a window.
func (c *Counters) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	v, err := incrementLua.Run(ctx, c.redis, []string{c.key(key)}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return v, nil
}

// Delete removes the counter.
func (c *Counters) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
