package authcore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/otp"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/sqlstore"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Abcd12!@"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = testSecret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	return cfg
}

type testEnv struct {
	auth  *Auth
	store *sqlstore.Store
	clock *testClock
}

func newTestEnv(t testing.TB, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	st, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newTestClock()

	b := New().WithConfig(cfg).WithStore(st).WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	a, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(a.Close)

	return &testEnv{auth: a, store: st, clock: clock}
}

// register creates a password account for email.
func (e *testEnv) register(t testing.TB, email string) store.Account {
	t.Helper()
	acc, err := e.auth.Sessions().Register(context.Background(), RegisterRequest{Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return acc
}

// registerVerified creates a password account and verifies its email.
func (e *testEnv) registerVerified(t testing.TB, email string) store.Account {
	t.Helper()
	acc := e.register(t, email)
	e.verify(t, store.ContactEmail, email)
	return acc
}

func (e *testEnv) verify(t testing.TB, kind store.ContactKind, target string) {
	t.Helper()
	ctx := context.Background()
	issued, err := e.auth.Verification().Issue(ctx, IssueRequest{Kind: kind, Target: target})
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	if _, err := e.auth.Verification().Verify(ctx, kind, target, issued.Code, ""); err != nil {
		t.Fatalf("verify code: %v", err)
	}
}

func (e *testEnv) login(t testing.TB, email string) *Session {
	t.Helper()
	res, err := e.auth.Sessions().Login(context.Background(), email, testPassword, "127.0.0.1")
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if res.Session == nil {
		t.Fatalf("login %s: expected session, got pending 2FA", email)
	}
	return res.Session
}

// enableTwoFactor turns on 2FA and returns the secret and backup codes.
func (e *testEnv) enableTwoFactor(t testing.TB, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := e.auth.TwoFactor().GenerateSecret(ctx, accountID, "")
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	codes, err := e.auth.TwoFactor().Enable(ctx, accountID, e.totpCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("enable 2fa: %v", err)
	}
	return setup.Secret, codes
}

func (e *testEnv) totpCode(t testing.TB, secret string) string {
	t.Helper()
	cfg := e.auth.Config().TwoFactor
	code, err := otp.NewTOTP(otp.TOTPConfig{Digits: cfg.Digits, Period: cfg.Period}).CodeAt(secret, e.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

type fakeVerifier struct {
	mu       sync.Mutex
	profiles map[string]ExternalProfile
	err      error
	calls    int
}

func (f *fakeVerifier) Verify(ctx context.Context, provider store.Provider, accessToken string) (ExternalProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ExternalProfile{}, f.err
	}
	p, ok := f.profiles[string(provider)+":"+accessToken]
	if !ok {
		return ExternalProfile{}, NewProviderError(false, errors.New("unknown token"))
	}
	return p, nil
}

// fakeLimiter denies a key after limit recorded failures.
type fakeLimiter struct {
	mu       sync.Mutex
	limit    int
	failures map[string]int
	checkErr error
}

func newFakeLimiter(limit int) *fakeLimiter {
	return &fakeLimiter{limit: limit, failures: map[string]int{}}
}

func (l *fakeLimiter) Check(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checkErr != nil {
		return l.checkErr
	}
	if l.failures[key] >= l.limit {
		return NewRateLimitError(errors.New(key))
	}
	return nil
}

func (l *fakeLimiter) RecordFailure(ctx context.Context, key string) error {
	l.mu.Lock()
	l.failures[key]++
	l.mu.Unlock()
	return nil
}

func (l *fakeLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.failures, key)
	l.mu.Unlock()
	return nil
}

// failingDenylist simulates an unreachable denylist backend.
type failingDenylist struct{}

var errDenylistDown = errors.New("denylist down")

func (failingDenylist) UpsertDenylistEntry(context.Context, store.DenylistEntry) error {
	return errDenylistDown
}

func (failingDenylist) ClaimDenylistEntry(context.Context, store.DenylistEntry) (bool, error) {
	return false, errDenylistDown
}

func (failingDenylist) IsDenylisted(context.Context, string, time.Time) (bool, error) {
	return false, errDenylistDown
}

func (failingDenylist) PurgeExpiredDenylist(context.Context, time.Time) (int64, error) {
	return 0, errDenylistDown
}
