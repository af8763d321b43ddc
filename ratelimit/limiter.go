package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

// Config bounds failures per key within one window.
type Config struct {
	MaxFailures int
	Window      time.Duration
	// Prefix namespaces keys inside the counter store.
	Prefix string
}

// FixedWindow denies a key once MaxFailures failures were recorded within
// Window. The window starts at the first failure and is not extended by
// later ones.
type FixedWindow struct {
	counters store.CounterStore
	cfg      Config
}

var _ authcore.Limiter = (*FixedWindow)(nil)

// New returns a limiter over counters.
func New(counters store.CounterStore, cfg Config) (*FixedWindow, error) {
	if counters == nil {
		return nil, fmt.Errorf("%w: nil counter store", ErrInvalidConfig)
	}
	if cfg.MaxFailures <= 0 {
		return nil, fmt.Errorf("%w: MaxFailures must be > 0", ErrInvalidConfig)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("%w: Window must be > 0", ErrInvalidConfig)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &FixedWindow{counters: counters, cfg: cfg}, nil
}

func (l *FixedWindow) key(k string) string {
	return l.cfg.Prefix + ":" + k
}

// Check returns an authcore rate-limit error when key is exhausted.
func (l *FixedWindow) Check(ctx context.Context, key string) error {
	n, err := l.counters.Get(ctx, l.key(key))
	if err != nil {
		return err
	}
	if n >= int64(l.cfg.MaxFailures) {
		return authcore.NewRateLimitError(fmt.Errorf("%s: %d failures in window", key, n))
	}
	return nil
}

// RecordFailure counts one failure against key.
func (l *FixedWindow) RecordFailure(ctx context.Context, key string) error {
	_, err := l.counters.Increment(ctx, l.key(key), l.cfg.Window)
	return err
}

// Reset clears key, typically after a successful login.
func (l *FixedWindow) Reset(ctx context.Context, key string) error {
	return l.counters.Delete(ctx, l.key(key))
}
