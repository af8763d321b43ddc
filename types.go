package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/store"
)

// TokenTypeBearer is the token type reported in every Session.
const TokenTypeBearer = "Bearer"

// AccessClaims is the verified payload of an access token.
type AccessClaims struct {
	AccountID string
	Role      string
	JTI       string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Session is an issued access and refresh token pair.
type Session struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	TokenType string
	Account   store.Account
}

// LoginResult is the outcome of a login step. Exactly one of Session or
// PendingToken is set.
type LoginResult struct {
	Session           *Session
	RequiresTwoFactor bool
	PendingToken      string
	// ExpiresIn is the pending token lifetime in seconds when
	// RequiresTwoFactor is set.
	ExpiresIn int64
}

// RegisterRequest creates a password account. At least one of Email and
// Phone is required.
type RegisterRequest struct {
	Email    string
	Phone    string
	Password string
	Nickname string
	Role     string
}

// TwoFactorSetup is returned when a TOTP secret is generated.
type TwoFactorSetup struct {
	Secret string
	// URI is the otpauth:// provisioning URI for authenticator apps.
	URI string
}

// TwoFactorStatus summarizes the 2FA state of an account.
type TwoFactorStatus struct {
	Enabled              bool
	Pending              bool
	VerifiedAt           *time.Time
	BackupCodesRemaining int
}

// IssueRequest asks for a new verification code. AccountID and Context are
// optional.
type IssueRequest struct {
	Kind      store.ContactKind
	Target    string
	AccountID string
	Context   string
}

// IssuedCode is returned once per issued verification code. Code is for the
// caller's delivery channel; RevealedCode mirrors it only when
// Config.Verification.RevealCodes is set.
type IssuedCode struct {
	ID           string
	Kind         store.ContactKind
	Target       string
	Code         string
	RevealedCode string
	ExpiresAt    time.Time
	ExpiresIn    int64
}

// OAuthCredentials is what a client presents for an OAuth login.
// ProviderID is only trusted for the anonymous provider or a trusted
// server-side flow.
type OAuthCredentials struct {
	AccessToken string
	ProviderID  string
	Email       string
	Nickname    string
}

// ExternalProfile is a provider-verified identity.
type ExternalProfile struct {
	ProviderID string
	Email      string
	Nickname   string
}

// IdentityVerifier resolves a provider access token to a verified profile.
// Implementations report failures with NewProviderError.
type IdentityVerifier interface {
	Verify(ctx context.Context, provider store.Provider, accessToken string) (ExternalProfile, error)
}

// Limiter is an optional abuse-resistance collaborator keyed by login
// identifier. Check returns an error matching ErrRateLimited when key is
// over budget.
type Limiter interface {
	Check(ctx context.Context, key string) error
	RecordFailure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}
