package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/internal/otp"
	"github.com/MrEthical07/authcore/store"
)

// TwoFactorAuthenticator manages TOTP secrets and single-use backup codes.
type TwoFactorAuthenticator struct {
	*core
	log  *zap.Logger
	totp *otp.TOTP
}

// GenerateSecret creates a pending TOTP secret for accountID, replacing any
// earlier secret and its backup codes. An enabled credential drops back to
// pending until Enable succeeds again. label names the account in
// authenticator apps and defaults to accountID.
func (f *TwoFactorAuthenticator) GenerateSecret(ctx context.Context, accountID, label string) (*TwoFactorSetup, error) {
	if _, err := f.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, internalError("load account", err)
	}

	secret, err := f.totp.GenerateSecret()
	if err != nil {
		return nil, internalError("generate totp secret", err)
	}
	if err := f.store.SaveTwoFactorSecret(ctx, accountID, secret, f.now()); err != nil {
		return nil, internalError("save totp secret", err)
	}

	if label == "" {
		label = accountID
	}
	return &TwoFactorSetup{
		Secret: secret,
		URI:    f.totp.ProvisionURI(secret, label),
	}, nil
}

// Enable confirms the pending secret with a current TOTP code and returns
// freshly generated backup codes. They are shown once; only hashes are kept.
func (f *TwoFactorAuthenticator) Enable(ctx context.Context, accountID, code string) ([]string, error) {
	cred, err := f.store.GetTwoFactor(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTwoFactorNotGenerated
		}
		return nil, internalError("load two-factor", err)
	}

	ok, err := f.checkTOTP(cred, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTwoFactorInvalidCode
	}

	display, records, err := f.newBackupCodes(accountID)
	if err != nil {
		return nil, err
	}
	if err := f.store.EnableTwoFactor(ctx, accountID, records, f.now()); err != nil {
		return nil, internalError("enable two-factor", err)
	}

	f.metrics.Inc(MetricTwoFactorEnabled)
	f.emitAudit(ctx, AuditEvent{Type: AuditTwoFactorEnabled, AccountID: accountID, Success: true})
	return display, nil
}

// Disable turns 2FA off after a valid TOTP or backup code, and deletes the
// remaining backup codes.
func (f *TwoFactorAuthenticator) Disable(ctx context.Context, accountID, code string) error {
	cred, err := f.enabledCredential(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := f.checkTOTP(cred, code)
	if err != nil {
		return err
	}
	if !ok {
		ok, err = f.consumeBackupCode(ctx, accountID, code)
		if err != nil {
			return err
		}
	}
	if !ok {
		return ErrTwoFactorInvalidCode
	}

	if err := f.store.DisableTwoFactor(ctx, accountID); err != nil {
		return internalError("disable two-factor", err)
	}
	f.metrics.Inc(MetricTwoFactorDisabled)
	f.emitAudit(ctx, AuditEvent{Type: AuditTwoFactorDisabled, AccountID: accountID, Success: true})
	return nil
}

// VerifyLoginCode accepts a TOTP code or consumes one unused backup code.
func (f *TwoFactorAuthenticator) VerifyLoginCode(ctx context.Context, accountID, code string) error {
	cred, err := f.enabledCredential(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := f.checkTOTP(cred, code)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	used, err := f.consumeBackupCode(ctx, accountID, code)
	if err != nil {
		return err
	}
	if used {
		f.emitAudit(ctx, AuditEvent{Type: AuditBackupCodeUsed, AccountID: accountID, Success: true})
		return nil
	}
	return ErrInvalidCode
}

// Status reports whether 2FA is enabled or pending, and how many backup
// codes are left.
func (f *TwoFactorAuthenticator) Status(ctx context.Context, accountID string) (TwoFactorStatus, error) {
	cred, err := f.store.GetTwoFactor(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TwoFactorStatus{}, nil
		}
		return TwoFactorStatus{}, internalError("load two-factor", err)
	}

	status := TwoFactorStatus{
		Enabled:    cred.Enabled,
		Pending:    !cred.Enabled,
		VerifiedAt: cred.VerifiedAt,
	}
	if cred.Enabled {
		codes, err := f.store.ListUnusedBackupCodes(ctx, accountID)
		if err != nil {
			return TwoFactorStatus{}, internalError("list backup codes", err)
		}
		status.BackupCodesRemaining = len(codes)
	}
	return status, nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code.
// Backup codes cannot authorize their own replacement.
func (f *TwoFactorAuthenticator) RegenerateBackupCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	cred, err := f.enabledCredential(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ok, err := f.checkTOTP(cred, totpCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTwoFactorInvalidCode
	}

	display, records, err := f.newBackupCodes(accountID)
	if err != nil {
		return nil, err
	}
	if err := f.store.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTwoFactorNotEnabled
		}
		return nil, internalError("replace backup codes", err)
	}

	f.metrics.Inc(MetricBackupCodeRegenerated)
	f.emitAudit(ctx, AuditEvent{Type: AuditBackupCodesRegenerated, AccountID: accountID, Success: true})
	return display, nil
}

func (f *TwoFactorAuthenticator) enabledCredential(ctx context.Context, accountID string) (store.TwoFactorCredential, error) {
	cred, err := f.store.GetTwoFactor(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.TwoFactorCredential{}, ErrTwoFactorNotEnabled
		}
		return store.TwoFactorCredential{}, internalError("load two-factor", err)
	}
	if !cred.Enabled {
		return store.TwoFactorCredential{}, ErrTwoFactorNotEnabled
	}
	return cred, nil
}

func (f *TwoFactorAuthenticator) checkTOTP(cred store.TwoFactorCredential, code string) (bool, error) {
	ok, err := f.totp.Verify(cred.Secret, code, f.now())
	if err != nil {
		f.log.Error("totp verify", zap.String("account_id", cred.AccountID), zap.Error(err))
		return false, internalError("verify totp", err)
	}
	if ok {
		f.metrics.Inc(MetricTOTPSuccess)
	} else {
		f.metrics.Inc(MetricTOTPFailure)
	}
	return ok, nil
}

// consumeBackupCode scans every unused code without stopping early, then
// spends the match with a conditional update.
func (f *TwoFactorAuthenticator) consumeBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	canonical := otp.CanonicalizeBackupCode(code)
	if len(canonical) != f.cfg.TwoFactor.BackupCodeLen {
		return false, nil
	}
	hash := otp.HashBound(accountID, canonical)

	codes, err := f.store.ListUnusedBackupCodes(ctx, accountID)
	if err != nil {
		return false, internalError("list backup codes", err)
	}

	match := ""
	for _, c := range codes {
		if otp.EqualHash(c.CodeHash, hash) && match == "" {
			match = c.ID
		}
	}
	if match == "" {
		f.metrics.Inc(MetricBackupCodeFailed)
		return false, nil
	}

	ok, err := f.store.ConsumeBackupCode(ctx, match, f.now())
	if err != nil {
		return false, internalError("consume backup code", err)
	}
	if !ok {
		f.metrics.Inc(MetricBackupCodeFailed)
		return false, nil
	}
	f.metrics.Inc(MetricBackupCodeUsed)
	return true, nil
}

func (f *TwoFactorAuthenticator) newBackupCodes(accountID string) ([]string, []store.BackupCode, error) {
	n := f.cfg.TwoFactor.BackupCodeCount
	display := make([]string, 0, n)
	records := make([]store.BackupCode, 0, n)
	for i := 0; i < n; i++ {
		code, err := otp.NewBackupCode(f.cfg.TwoFactor.BackupCodeLen)
		if err != nil {
			return nil, nil, internalError("generate backup code", err)
		}
		display = append(display, otp.FormatBackupCode(code))
		records = append(records, store.BackupCode{
			ID:        ids.NewRandom(),
			AccountID: accountID,
			CodeHash:  otp.HashBound(accountID, code),
		})
	}
	return display, records, nil
}
