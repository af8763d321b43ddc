package ratelimit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/MrEthical07/authcore/store/sqlstore"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) (*FixedWindow, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	l, err := New(redisstore.NewCounters(rdb, "test"), Config{MaxFailures: max, Window: window})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l, mr
}

func TestFixedWindowDeniesAfterMaxFailures(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Check(ctx, "login:a@test.com"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.RecordFailure(ctx, "login:a@test.com"); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	err := l.Check(ctx, "login:a@test.com")
	if !errors.Is(err, authcore.ErrRateLimited) || authcore.KindOf(err) != authcore.KindRateLimited {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if err := l.Check(ctx, "login:b@test.com"); err != nil {
		t.Fatalf("other keys must be unaffected: %v", err)
	}
}

func TestFixedWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if err := l.RecordFailure(ctx, "k"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Check(ctx, "k"); !errors.Is(err, authcore.ErrRateLimited) {
		t.Fatalf("expected denial, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("expected window to reset, got %v", err)
	}
}

func TestFixedWindowReset(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "k")
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("expected reset key to pass, got %v", err)
	}
}

func TestFixedWindowSurfacesStoreErrors(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	err := l.Check(context.Background(), "k")
	if err == nil || errors.Is(err, authcore.ErrRateLimited) {
		t.Fatalf("expected a store error, got %v", err)
	}
	if !errors.Is(err, redisstore.ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	if _, err := New(nil, Config{MaxFailures: 1, Window: time.Minute}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for nil store, got %v", err)
	}
	if _, err := New(l.counters, Config{Window: time.Minute}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero max, got %v", err)
	}
	if _, err := New(l.counters, Config{MaxFailures: 1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero window, got %v", err)
	}
}

// Login lockout end to end: the limiter gates SessionManager.Login.
func TestLimiterGatesLogin(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	st, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	a, err := authcore.New().WithConfig(cfg).WithStore(st).WithLimiter(l).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(a.Close)

	if _, err := a.Sessions().Register(ctx, authcore.RegisterRequest{Email: "a@test.com", Password: "Abcd12!@"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := a.Sessions().Login(ctx, "a@test.com", "Wrong12!@", ""); !errors.Is(err, authcore.ErrInvalidPassword) {
			t.Fatalf("attempt %d: expected ErrInvalidPassword, got %v", i, err)
		}
	}
	if _, err := a.Sessions().Login(ctx, "a@test.com", "Abcd12!@", ""); !errors.Is(err, authcore.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
