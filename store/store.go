package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrRefreshReused is returned by RotateRefreshToken when the presented
	// hash matches a token that was already revoked.
	ErrRefreshReused = errors.New("store: refresh token already revoked")
)

// Accounts persists accounts.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	// CreateAccountWithAssociate inserts both records in one transaction.
	// A (provider, provider_ref_id) collision returns ErrDuplicate and leaves
	// no account behind.
	CreateAccountWithAssociate(ctx context.Context, account Account, associate Associate) error
}

// Associates persists credential bindings.
type Associates interface {
	// CreateAssociate returns ErrDuplicate when (provider, provider_ref_id)
	// is already bound.
	CreateAssociate(ctx context.Context, associate Associate) error
	FindAssociate(ctx context.Context, provider Provider, refID string) (Associate, error)
	// FindPasswordAssociate resolves a password associate whose email or
	// phone equals identifier.
	FindPasswordAssociate(ctx context.Context, identifier string) (Associate, error)
	// FindAssociateByEmail returns the earliest-created associate holding
	// email, across all providers.
	FindAssociateByEmail(ctx context.Context, email string) (Associate, error)
	// FindVerifiedAssociateByEmail is FindAssociateByEmail restricted to
	// associates whose email is verified.
	FindVerifiedAssociateByEmail(ctx context.Context, email string) (Associate, error)
	// FindAssociateByPhone returns the earliest-created associate holding phone.
	FindAssociateByPhone(ctx context.Context, phone string) (Associate, error)
	ListAssociates(ctx context.Context, accountID string) ([]Associate, error)
	// MarkContactVerified flags every associate holding target as verified
	// for kind and returns the number of associates updated.
	MarkContactVerified(ctx context.Context, kind ContactKind, target string) (int64, error)
	UpdatePasswordHash(ctx context.Context, associateID, hash string) error
}

// RefreshTokens persists refresh chains.
type RefreshTokens interface {
	InsertRefreshToken(ctx context.Context, token RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error)
	// RotateRefreshToken atomically revokes the live token matching
	// presentedHash, links it to successor and inserts successor with the
	// revoked token's account id. It returns the revoked token.
	// Unknown or expired hashes return ErrNotFound; already revoked hashes
	// return ErrRefreshReused.
	RotateRefreshToken(ctx context.Context, presentedHash string, successor RefreshToken, now time.Time) (RefreshToken, error)
	// RevokeRefreshToken revokes a live token by id. It returns ErrNotFound
	// when the token is unknown or no longer live.
	RevokeRefreshToken(ctx context.Context, id string, now time.Time) error
	RevokeAllRefreshTokens(ctx context.Context, accountID string, now time.Time) (int64, error)
}

// TwoFactors persists TOTP secrets and backup codes.
type TwoFactors interface {
	GetTwoFactor(ctx context.Context, accountID string) (TwoFactorCredential, error)
	// SaveTwoFactorSecret creates or overwrites the secret, leaves the
	// credential disabled and deletes existing backup codes.
	SaveTwoFactorSecret(ctx context.Context, accountID, secret string, now time.Time) error
	// EnableTwoFactor marks the credential enabled and replaces the backup
	// codes with codes in one transaction.
	EnableTwoFactor(ctx context.Context, accountID string, codes []BackupCode, now time.Time) error
	// ReplaceBackupCodes swaps the backup codes of an enabled credential.
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCode) error
	// DisableTwoFactor clears enabled and deletes every backup code.
	DisableTwoFactor(ctx context.Context, accountID string) error
	ListUnusedBackupCodes(ctx context.Context, accountID string) ([]BackupCode, error)
	// ConsumeBackupCode sets used_at when still unused. It reports false
	// when another caller consumed the code first.
	ConsumeBackupCode(ctx context.Context, id string, now time.Time) (bool, error)
}

// VerificationCodes persists the append-only verification code log.
type VerificationCodes interface {
	InsertVerificationCode(ctx context.Context, code VerificationCode) error
	// LatestVerificationCode returns the most recently created record for
	// (kind, target). An empty context matches any context.
	LatestVerificationCode(ctx context.Context, kind ContactKind, target, codeContext string) (VerificationCode, error)
	// IncrementVerificationAttempts adds one attempt while attempts < max and
	// the record is unverified. It reports false when the guard rejected the
	// increment.
	IncrementVerificationAttempts(ctx context.Context, id string, max int) (bool, error)
	// MarkVerificationCodeUsed sets verified_at while unverified and
	// attempts < max. It reports false when the guard rejected the update.
	MarkVerificationCodeUsed(ctx context.Context, id string, max int, now time.Time) (bool, error)
}

// Denylist persists access-token denylist entries.
type Denylist interface {
	// UpsertDenylistEntry inserts or replaces the entry keyed by jti.
	UpsertDenylistEntry(ctx context.Context, entry DenylistEntry) error
	// ClaimDenylistEntry inserts the entry only when jti is absent and
	// reports whether this call inserted it. Of concurrent claims on one jti
	// exactly one sees true.
	ClaimDenylistEntry(ctx context.Context, entry DenylistEntry) (bool, error)
	IsDenylisted(ctx context.Context, jti string, now time.Time) (bool, error)
	PurgeExpiredDenylist(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore aggregates every relational capability the engine uses.
type CredentialStore interface {
	Accounts
	Associates
	RefreshTokens
	TwoFactors
	VerificationCodes
	Denylist
}

// CounterStore is a small keyed counter store used by rate limiters.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Increment adds one to key, starting the ttl window on first increment,
	// and returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}
