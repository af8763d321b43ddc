package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundTripAndDenylist(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	tokens := env.auth.Tokens()

	token, expiresIn, err := tokens.IssueAccessToken(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected expiresIn 3600, got %d", expiresIn)
	}

	claims, err := tokens.VerifyAccessToken(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AccountID != "u1" || claims.Role != "user" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.JTI == "" {
		t.Fatal("expected jti")
	}

	if err := tokens.DenylistAccessToken(ctx, token, "u1", "logout"); err != nil {
		t.Fatalf("denylist: %v", err)
	}
	_, err = tokens.VerifyAccessToken(ctx, token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after denylist, got %v", err)
	}
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized kind, got %v", KindOf(err))
	}
}

func TestVerifyAccessTokenExpiresWithClock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	token, _, err := env.auth.Tokens().IssueAccessToken(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	env.clock.Advance(time.Hour + time.Second)

	if _, err := env.auth.Tokens().VerifyAccessToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestVerifyAccessTokenRejectsForeignSignature(t *testing.T) {
	env := newTestEnv(t, nil)
	other := newTestEnv(t, func(c *Config) { c.Token.Secret = "ffffffffffffffffffffffffffffffff" })
	ctx := context.Background()

	token, _, err := other.auth.Tokens().IssueAccessToken(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.auth.Tokens().VerifyAccessToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPendingTokenIsNotAnAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	tokens := env.auth.Tokens()

	pending, expiresIn, err := tokens.IssuePendingTwoFactorToken(ctx, "u1")
	if err != nil {
		t.Fatalf("issue pending: %v", err)
	}
	if expiresIn != 300 {
		t.Fatalf("expected 300s pending lifetime, got %d", expiresIn)
	}
	if _, err := tokens.VerifyAccessToken(ctx, pending); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("pending token must not verify as access token, got %v", err)
	}

	sub, err := tokens.VerifyPendingTwoFactorToken(ctx, pending)
	if err != nil || sub != "u1" {
		t.Fatalf("verify pending: sub=%q err=%v", sub, err)
	}

	access, _, err := tokens.IssueAccessToken(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := tokens.VerifyPendingTwoFactorToken(ctx, access); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("access token must not verify as pending, got %v", err)
	}

	env.clock.Advance(5*time.Minute + time.Second)
	if _, err := tokens.VerifyPendingTwoFactorToken(ctx, pending); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected expired pending token, got %v", err)
	}
}

func TestVerifyAccessTokenFailsClosedWhenDenylistDown(t *testing.T) {
	env := newTestEnv(t, nil, func(b *Builder) { b.WithDenylist(failingDenylist{}) })
	ctx := context.Background()

	token, _, err := env.auth.Tokens().IssueAccessToken(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = env.auth.Tokens().VerifyAccessToken(ctx, token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if !errors.Is(err, errDenylistDown) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
	if got := env.auth.MetricsSnapshot().Counters[MetricDenylistLookupFailure]; got != 1 {
		t.Fatalf("expected one denylist lookup failure, got %d", got)
	}
}

func TestDenylistAccessTokenIgnoresUnverifiableTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		if err := env.auth.Tokens().DenylistAccessToken(ctx, raw, "u1", "logout"); err != nil {
			t.Fatalf("denylist %q: %v", raw, err)
		}
	}
}

func TestPurgeExpiredDenylist(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	tokens := env.auth.Tokens()

	token, _, err := tokens.IssueAccessToken(ctx, "u1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := tokens.DenylistAccessToken(ctx, token, "u1", "logout"); err != nil {
		t.Fatalf("denylist: %v", err)
	}
	if n, err := tokens.PurgeExpired(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing to purge yet, n=%d err=%v", n, err)
	}

	env.clock.Advance(2 * time.Hour)
	if n, err := tokens.PurgeExpired(ctx); err != nil || n != 1 {
		t.Fatalf("expected one purged entry, n=%d err=%v", n, err)
	}
}

func TestRevokeRefreshTokenChecksOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.register(t, "owner@test.com")
	tokens := env.auth.Tokens()

	raw, err := tokens.IssueRefreshToken(ctx, acc.ID, "10.0.0.1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	if err := tokens.RevokeRefreshToken(ctx, raw, "someone-else"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := tokens.RevokeRefreshToken(ctx, raw, acc.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := tokens.RevokeRefreshToken(ctx, raw, acc.ID); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken on second revoke, got %v", err)
	}
	if err := tokens.RevokeRefreshToken(ctx, "unknown", ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for unknown token, got %v", err)
	}
	if _, _, err := tokens.RotateRefreshToken(ctx, raw, ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("revoked token must not rotate, got %v", err)
	}
}

func TestRefreshTokenExpires(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Token.RefreshTTL = time.Hour })
	ctx := context.Background()
	acc := env.register(t, "exp@test.com")

	raw, err := env.auth.Tokens().IssueRefreshToken(ctx, acc.ID, "")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	env.clock.Advance(time.Hour)
	if _, _, err := env.auth.Tokens().RotateRefreshToken(ctx, raw, ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired refresh token to fail, got %v", err)
	}
}
