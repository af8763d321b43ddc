package store

import "time"

// Provider names the credential source bound by an Associate.
type Provider string

const (
	ProviderPassword  Provider = "password"
	ProviderPhone     Provider = "phone"
	ProviderGoogle    Provider = "google"
	ProviderFacebook  Provider = "facebook"
	ProviderAnonymous Provider = "anonymous"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderPassword, ProviderPhone, ProviderGoogle, ProviderFacebook, ProviderAnonymous:
		return true
	}
	return false
}

// ContactKind is the channel a verification code is delivered over.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// Account is the identity that owns associates, refresh tokens and 2FA state.
type Account struct {
	ID        string
	Role      string
	Nickname  string
	CreatedAt time.Time
}

// Associate binds one external identity to exactly one Account.
type Associate struct {
	ID            string
	AccountID     string
	Provider      Provider
	ProviderRefID string
	Email         string
	EmailVerified bool
	Phone         string
	PhoneVerified bool
	PasswordHash  string
	CreatedAt     time.Time
}

// RefreshToken is one link of a refresh chain. It is live iff RevokedAt is nil
// and ExpiresAt is in the future.
type RefreshToken struct {
	ID           string
	AccountID    string
	TokenHash    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	ReplacedByID string
	CreatedByIP  string
}

// Live reports whether the token can still be rotated at now.
func (t RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// TwoFactorCredential holds the TOTP secret of one account.
type TwoFactorCredential struct {
	AccountID  string
	Secret     string
	Enabled    bool
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// BackupCode is a single-use fallback 2FA credential.
type BackupCode struct {
	ID        string
	AccountID string
	CodeHash  string
	UsedAt    *time.Time
}

// VerificationCode is one append-only entry of the code log kept per
// (target, kind, context).
type VerificationCode struct {
	ID         string
	AccountID  string
	Target     string
	Kind       ContactKind
	CodeHash   string
	Context    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Attempts   int
	VerifiedAt *time.Time
}

// DenylistEntry invalidates an access token before its natural expiry.
type DenylistEntry struct {
	JTI       string
	AccountID string
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}
