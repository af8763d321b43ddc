package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTwoFactorEnableRequiresGeneratedSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")
	tf := env.auth.TwoFactor()

	if _, err := tf.Enable(ctx, acc.ID, "123456"); !errors.Is(err, ErrTwoFactorNotGenerated) {
		t.Fatalf("expected ErrTwoFactorNotGenerated, got %v", err)
	}

	setup, err := tf.GenerateSecret(ctx, acc.ID, "a@test.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") || !strings.Contains(setup.URI, "secret="+setup.Secret) {
		t.Fatalf("unexpected provisioning uri %q", setup.URI)
	}

	status, err := tf.Status(ctx, acc.ID)
	if err != nil || status.Enabled || !status.Pending {
		t.Fatalf("expected pending status, got %+v err=%v", status, err)
	}

	if _, err := tf.Enable(ctx, acc.ID, "abc"); !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected ErrTwoFactorInvalidCode, got %v", err)
	}
	if KindOf(ErrTwoFactorInvalidCode) != KindBadRequest {
		t.Fatal("enable failures are bad requests")
	}

	codes, err := tf.Enable(ctx, acc.ID, env.totpCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(codes) != 5 {
		t.Fatalf("expected 5 backup codes, got %d", len(codes))
	}
	for _, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Fatalf("unexpected backup code format %q", c)
		}
	}

	status, err = tf.Status(ctx, acc.ID)
	if err != nil || !status.Enabled || status.BackupCodesRemaining != 5 || status.VerifiedAt == nil {
		t.Fatalf("unexpected status %+v err=%v", status, err)
	}
}

func TestTwoFactorRegenerateResetsEnabledToPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")
	oldSecret, codes := env.enableTwoFactor(t, acc.ID)
	tf := env.auth.TwoFactor()

	setup, err := tf.GenerateSecret(ctx, acc.ID, "")
	if err != nil {
		t.Fatalf("regenerate on enabled account: %v", err)
	}

	status, err := tf.Status(ctx, acc.ID)
	if err != nil || status.Enabled || !status.Pending || status.BackupCodesRemaining != 0 {
		t.Fatalf("expected pending status after regenerate, got %+v err=%v", status, err)
	}
	if err := tf.VerifyLoginCode(ctx, acc.ID, env.totpCode(t, oldSecret)); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
	if err := tf.VerifyLoginCode(ctx, acc.ID, codes[0]); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("old backup codes must not pass, got %v", err)
	}

	// Password login skips the gate until the new secret is proven.
	res, err := env.auth.Sessions().Login(ctx, "a@test.com", testPassword, "")
	if err != nil || res.Session == nil || res.RequiresTwoFactor {
		t.Fatalf("expected a plain session while pending, got %+v err=%v", res, err)
	}

	if _, err := tf.Enable(ctx, acc.ID, env.totpCode(t, setup.Secret)); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	res, err = env.auth.Sessions().Login(ctx, "a@test.com", testPassword, "")
	if err != nil || !res.RequiresTwoFactor {
		t.Fatalf("expected the 2FA gate after re-enable, got %+v err=%v", res, err)
	}
}

func TestTwoFactorRegeneratedSecretOverwritesPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")
	tf := env.auth.TwoFactor()

	first, err := tf.GenerateSecret(ctx, acc.ID, "")
	if err != nil {
		t.Fatalf("generate first: %v", err)
	}
	second, err := tf.GenerateSecret(ctx, acc.ID, "")
	if err != nil {
		t.Fatalf("generate second: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh secret")
	}

	firstCode := env.totpCode(t, first.Secret)
	if firstCode != env.totpCode(t, second.Secret) {
		if _, err := tf.Enable(ctx, acc.ID, firstCode); !errors.Is(err, ErrTwoFactorInvalidCode) {
			t.Fatalf("overwritten secret must not enable, got %v", err)
		}
	}
	if _, err := tf.Enable(ctx, acc.ID, env.totpCode(t, second.Secret)); err != nil {
		t.Fatalf("enable with latest secret: %v", err)
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")
	_, codes := env.enableTwoFactor(t, acc.ID)
	tf := env.auth.TwoFactor()

	// Lower case without the dash is accepted.
	typed := strings.ToLower(strings.ReplaceAll(codes[0], "-", ""))
	if err := tf.VerifyLoginCode(ctx, acc.ID, typed); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := tf.VerifyLoginCode(ctx, acc.ID, codes[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected consumed backup code to fail, got %v", err)
	}

	status, err := tf.Status(ctx, acc.ID)
	if err != nil || status.BackupCodesRemaining != 4 {
		t.Fatalf("expected 4 remaining codes, got %+v err=%v", status, err)
	}
}

func TestTOTPCodeValidPerTimeStep(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")
	secret, _ := env.enableTwoFactor(t, acc.ID)
	tf := env.auth.TwoFactor()

	code := env.totpCode(t, secret)
	if err := tf.VerifyLoginCode(ctx, acc.ID, code); err != nil {
		t.Fatalf("current code: %v", err)
	}

	// Outside the skew window the old code is stale.
	env.clock.Advance(2 * 30 * time.Second)
	stale := code
	fresh := env.totpCode(t, secret)
	if stale != fresh {
		if err := tf.VerifyLoginCode(ctx, acc.ID, stale); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected stale code to fail, got %v", err)
		}
	}
	if err := tf.VerifyLoginCode(ctx, acc.ID, fresh); err != nil {
		t.Fatalf("next step code: %v", err)
	}
}

func TestTwoFactorDisableWithBackupCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")
	_, codes := env.enableTwoFactor(t, acc.ID)
	tf := env.auth.TwoFactor()

	if err := tf.Disable(ctx, acc.ID, "ZZZZZ-ZZZZZ"); !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected ErrTwoFactorInvalidCode, got %v", err)
	}
	if err := tf.Disable(ctx, acc.ID, codes[1]); err != nil {
		t.Fatalf("disable: %v", err)
	}

	status, err := tf.Status(ctx, acc.ID)
	if err != nil || status.Enabled || status.BackupCodesRemaining != 0 {
		t.Fatalf("expected disabled status, got %+v err=%v", status, err)
	}
	if err := tf.VerifyLoginCode(ctx, acc.ID, codes[2]); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
	if err := tf.Disable(ctx, acc.ID, codes[2]); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled on second disable, got %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc := env.registerVerified(t, "a@test.com")
	secret, old := env.enableTwoFactor(t, acc.ID)
	tf := env.auth.TwoFactor()

	if _, err := tf.RegenerateBackupCodes(ctx, acc.ID, old[0]); !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("backup codes must not authorize regeneration, got %v", err)
	}

	fresh, err := tf.RegenerateBackupCodes(ctx, acc.ID, env.totpCode(t, secret))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(fresh) != 5 {
		t.Fatalf("expected 5 codes, got %d", len(fresh))
	}
	if err := tf.VerifyLoginCode(ctx, acc.ID, old[1]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("old backup code must be gone, got %v", err)
	}
	if err := tf.VerifyLoginCode(ctx, acc.ID, fresh[0]); err != nil {
		t.Fatalf("new backup code: %v", err)
	}
}

func TestBackupCodesAreBoundToAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a := env.registerVerified(t, "a@test.com")
	b := env.registerVerified(t, "b@test.com")
	_, codesA := env.enableTwoFactor(t, a.ID)
	env.enableTwoFactor(t, b.ID)

	if err := env.auth.TwoFactor().VerifyLoginCode(ctx, b.ID, codesA[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected foreign backup code to fail, got %v", err)
	}
}
