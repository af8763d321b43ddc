package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
)

func newOAuthEnv(t *testing.T, v *fakeVerifier, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnv(t, mutate, func(b *Builder) { b.WithIdentityVerifier(v) })
}

func TestLinkProviderConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	u1 := env.register(t, "u1@test.com")
	u2 := env.register(t, "u2@test.com")
	sessions := env.auth.Sessions()

	assoc, err := sessions.LinkProvider(ctx, u1.ID, store.ProviderGoogle, "G123", "")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if assoc.AccountID != u1.ID {
		t.Fatalf("unexpected associate %+v", assoc)
	}

	for _, owner := range []string{u2.ID, u1.ID} {
		_, err := sessions.LinkProvider(ctx, owner, store.ProviderGoogle, "G123", "")
		if !errors.Is(err, ErrProviderAlreadyLinked) || KindOf(err) != KindConflict {
			t.Fatalf("owner %s: expected conflict, got %v", owner, err)
		}
	}
}

func TestLinkProviderValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	u := env.register(t, "u@test.com")
	sessions := env.auth.Sessions()

	if _, err := sessions.LinkProvider(ctx, u.ID, "twitter", "x", ""); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := sessions.LinkProvider(ctx, u.ID, store.ProviderPassword, "+1555", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing password hash error, got %v", err)
	}
	if _, err := sessions.LinkProvider(ctx, "missing", store.ProviderGoogle, "G1", ""); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	hash, err := env.auth.Passwords().Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	assoc, err := sessions.LinkProvider(ctx, u.ID, store.ProviderPassword, " +15550009 ", hash)
	if err != nil {
		t.Fatalf("link password by phone: %v", err)
	}
	if assoc.Phone != "+15550009" || assoc.ProviderRefID != "+15550009" {
		t.Fatalf("unexpected associate %+v", assoc)
	}
}

func TestLoginOAuthCreatesAndReusesAccount(t *testing.T) {
	v := &fakeVerifier{profiles: map[string]ExternalProfile{
		"google:tok-1": {ProviderID: "G1", Email: "New@Test.com", Nickname: "neo"},
		"google:tok-2": {ProviderID: "G1", Email: "new@test.com"},
	}}
	env := newOAuthEnv(t, v, nil)
	ctx := context.Background()
	sessions := env.auth.Sessions()

	first, err := sessions.LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "tok-1"}, "", false)
	if err != nil || first.Session == nil {
		t.Fatalf("first oauth login: res=%+v err=%v", first, err)
	}
	if first.Session.Account.Nickname != "neo" {
		t.Fatalf("expected nickname from profile, got %+v", first.Session.Account)
	}
	second, err := sessions.LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "tok-2"}, "", false)
	if err != nil {
		t.Fatalf("second oauth login: %v", err)
	}
	if first.Session.Account.ID != second.Session.Account.ID {
		t.Fatal("expected the same account for the same provider id")
	}

	assoc, err := env.store.FindAssociate(ctx, store.ProviderGoogle, "G1")
	if err != nil || assoc.Email != "new@test.com" || !assoc.EmailVerified {
		t.Fatalf("unexpected associate %+v err=%v", assoc, err)
	}
}

func TestLoginOAuthAttachesByEmail(t *testing.T) {
	v := &fakeVerifier{profiles: map[string]ExternalProfile{
		"facebook:tok": {ProviderID: "F1", Email: "a@test.com"},
	}}
	env := newOAuthEnv(t, v, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")

	res, err := env.auth.Sessions().LoginOAuth(ctx, store.ProviderFacebook, OAuthCredentials{AccessToken: "tok"}, "", false)
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if res.Session.Account.ID != acc.ID {
		t.Fatalf("expected attach to %s, got %s", acc.ID, res.Session.Account.ID)
	}
	assocs, err := env.store.ListAssociates(ctx, acc.ID)
	if err != nil || len(assocs) != 2 {
		t.Fatalf("expected two associates, got %d err=%v", len(assocs), err)
	}
}

func TestLoginOAuthIgnoresUnverifiedEmailClaim(t *testing.T) {
	v := &fakeVerifier{profiles: map[string]ExternalProfile{
		"google:tok": {ProviderID: "G5", Email: "victim@test.com"},
	}}
	env := newOAuthEnv(t, v, nil)
	ctx := context.Background()
	squatter := env.register(t, "victim@test.com")

	res, err := env.auth.Sessions().LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "tok"}, "", false)
	if err != nil || res.Session == nil {
		t.Fatalf("oauth login: res=%+v err=%v", res, err)
	}
	if res.Session.Account.ID == squatter.ID {
		t.Fatal("external identity must not attach to an unverified email claim")
	}
	assocs, err := env.store.ListAssociates(ctx, squatter.ID)
	if err != nil || len(assocs) != 1 {
		t.Fatalf("expected the unverified account untouched, got %d err=%v", len(assocs), err)
	}
}

func TestLoginOAuthAppliesTwoFactorGate(t *testing.T) {
	v := &fakeVerifier{profiles: map[string]ExternalProfile{
		"google:tok": {ProviderID: "G9"},
	}}
	env := newOAuthEnv(t, v, nil)
	ctx := context.Background()

	res, err := env.auth.Sessions().LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "tok"}, "", false)
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	secret, _ := env.enableTwoFactor(t, res.Session.Account.ID)

	res, err = env.auth.Sessions().LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "tok"}, "", false)
	if err != nil {
		t.Fatalf("oauth login with 2fa: %v", err)
	}
	if !res.RequiresTwoFactor || res.Session != nil {
		t.Fatalf("expected pending 2FA, got %+v", res)
	}
	if _, err := env.auth.Sessions().VerifyLoginTwoFactor(ctx, res.PendingToken, env.totpCode(t, secret), ""); err != nil {
		t.Fatalf("complete 2fa: %v", err)
	}
}

func TestLoginOAuthProviderFailuresCreateNothing(t *testing.T) {
	v := &fakeVerifier{}
	env := newOAuthEnv(t, v, nil)
	ctx := context.Background()
	sessions := env.auth.Sessions()

	_, err := sessions.LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "bad", ProviderID: "G1"}, "", false)
	if !errors.Is(err, ErrInvalidProviderToken) {
		t.Fatalf("expected ErrInvalidProviderToken, got %v", err)
	}

	v.err = NewProviderError(true, errors.New("503"))
	_, err = sessions.LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "tok"}, "", false)
	if !errors.Is(err, ErrProviderUnavailable) || KindOf(err) != KindTransientProvider {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	v.err = context.DeadlineExceeded
	_, err = sessions.LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{AccessToken: "tok"}, "", false)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected timeout to map to ErrProviderUnavailable, got %v", err)
	}

	if _, err := env.store.FindAssociate(ctx, store.ProviderGoogle, "G1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no associate after provider failures, got %v", err)
	}
	if got := env.auth.MetricsSnapshot().Counters[MetricProviderUnavailable]; got != 2 {
		t.Fatalf("expected 2 provider unavailable events, got %d", got)
	}
}

type slowVerifier struct{}

func (slowVerifier) Verify(ctx context.Context, _ store.Provider, _ string) (ExternalProfile, error) {
	<-ctx.Done()
	return ExternalProfile{}, ctx.Err()
}

func TestLoginOAuthBoundsProviderCall(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.OAuth.RequestTimeout = 20 * time.Millisecond },
		func(b *Builder) { b.WithIdentityVerifier(slowVerifier{}) })

	_, err := env.auth.Sessions().LoginOAuth(context.Background(), store.ProviderGoogle, OAuthCredentials{AccessToken: "tok"}, "", false)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestLoginOAuthAnonymousAndTrustedFlow(t *testing.T) {
	v := &fakeVerifier{}
	env := newOAuthEnv(t, v, nil)
	ctx := context.Background()
	sessions := env.auth.Sessions()

	anon, err := sessions.LoginOAuth(ctx, store.ProviderAnonymous, OAuthCredentials{ProviderID: "device-1", Nickname: "guest"}, "", false)
	if err != nil || anon.Session == nil {
		t.Fatalf("anonymous login: res=%+v err=%v", anon, err)
	}
	if _, err := sessions.LoginOAuth(ctx, store.ProviderAnonymous, OAuthCredentials{}, "", false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing id, got %v", err)
	}

	trusted, err := sessions.LoginOAuth(ctx, store.ProviderGoogle, OAuthCredentials{ProviderID: "G77", Email: "t@test.com"}, "", true)
	if err != nil || trusted.Session == nil {
		t.Fatalf("trusted login: res=%+v err=%v", trusted, err)
	}
	if v.calls != 0 {
		t.Fatalf("verifier must not be called, got %d calls", v.calls)
	}

	for _, p := range []store.Provider{store.ProviderPassword, store.ProviderPhone, "twitter"} {
		if _, err := sessions.LoginOAuth(ctx, p, OAuthCredentials{AccessToken: "tok"}, "", false); !errors.Is(err, ErrUnsupportedProvider) {
			t.Fatalf("%s: expected ErrUnsupportedProvider, got %v", p, err)
		}
	}
}

func TestLoginOAuthWithoutVerifier(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.auth.Sessions().LoginOAuth(context.Background(), store.ProviderGoogle, OAuthCredentials{AccessToken: "tok"}, "", false)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
