package authcore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the auth core. Start from DefaultConfig and
// override fields, or load it with LoadConfigFromEnv.
type Config struct {
	Token        TokenConfig        `envPrefix:"TOKEN_"`
	Password     PasswordConfig     `envPrefix:"PASSWORD_"`
	TwoFactor    TwoFactorConfig    `envPrefix:"TWO_FACTOR_"`
	Verification VerificationConfig `envPrefix:"VERIFICATION_"`
	OAuth        OAuthConfig        `envPrefix:"OAUTH_"`
	Security     SecurityConfig     `envPrefix:"SECURITY_"`
	Metrics      MetricsConfig      `envPrefix:"METRICS_"`
	Audit        AuditConfig        `envPrefix:"AUDIT_"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures access, pending and refresh tokens. Secret is the
// HS256 signing key.
type TokenConfig struct {
	Secret     string        `env:"SECRET"`
	Issuer     string        `env:"ISSUER"`
	Audience   string        `env:"AUDIENCE"`
	AccessTTL  time.Duration `env:"ACCESS_TTL"`
	RefreshTTL time.Duration `env:"REFRESH_TTL"`
	PendingTTL time.Duration `env:"PENDING_TTL"`
	Leeway     time.Duration `env:"LEEWAY"`
	// RevokeAllOnReuse revokes every live refresh token of an account when
	// one of its already rotated tokens is presented again.
	RevokeAllOnReuse bool `env:"REVOKE_ALL_ON_REUSE"`
}

// PasswordConfig holds argon2id costs. Memory is in KiB.
type PasswordConfig struct {
	Memory         uint32 `env:"MEMORY"`
	Time           uint32 `env:"TIME"`
	Parallelism    uint8  `env:"PARALLELISM"`
	SaltLength     uint32 `env:"SALT_LENGTH"`
	KeyLength      uint32 `env:"KEY_LENGTH"`
	UpgradeOnLogin bool   `env:"UPGRADE_ON_LOGIN"`
}

// TwoFactorConfig configures TOTP and backup codes.
type TwoFactorConfig struct {
	Issuer          string `env:"ISSUER"`
	Digits          int    `env:"DIGITS"`
	Period          int    `env:"PERIOD"`
	Skew            int    `env:"SKEW"`
	BackupCodeCount int    `env:"BACKUP_CODE_COUNT"`
	BackupCodeLen   int    `env:"BACKUP_CODE_LENGTH"`
	// EnforceOnOTPLogin applies the 2FA gate to phone OTP logins too.
	EnforceOnOTPLogin bool `env:"ENFORCE_ON_OTP_LOGIN"`
}

// VerificationConfig configures email and phone verification codes.
type VerificationConfig struct {
	EmailTTL    time.Duration `env:"EMAIL_TTL"`
	PhoneTTL    time.Duration `env:"PHONE_TTL"`
	Digits      int           `env:"DIGITS"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	// RevealCodes echoes issued codes back in IssuedCode.RevealedCode.
	// Never enable it in production.
	RevealCodes bool `env:"REVEAL_CODES"`
}

// OAuthConfig bounds calls to external identity providers.
type OAuthConfig struct {
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
	// MaxRetries is the total number of attempts per provider call.
	MaxRetries int `env:"MAX_RETRIES"`
}

// SecurityConfig holds login hardening switches.
type SecurityConfig struct {
	// GenericCredentialErrors collapses "user not found" and "invalid
	// password" into ErrInvalidCredentials.
	GenericCredentialErrors bool   `env:"GENERIC_CREDENTIAL_ERRORS"`
	DefaultRole             string `env:"DEFAULT_ROLE"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// DefaultConfig returns production defaults. Token.Secret is left empty and
// must be set.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:     "authcore",
			AccessTTL:  time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
			PendingTTL: 5 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           1,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:          "authcore",
			Digits:          6,
			Period:          30,
			Skew:            1,
			BackupCodeCount: 5,
			BackupCodeLen:   10,
		},
		Verification: VerificationConfig{
			EmailTTL:    30 * time.Minute,
			PhoneTTL:    5 * time.Minute,
			Digits:      6,
			MaxAttempts: 5,
		},
		OAuth: OAuthConfig{
			RequestTimeout: 5 * time.Second,
			MaxRetries:     3,
		},
		Security: SecurityConfig{
			DefaultRole: "user",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// EnvPrefix prefixes every variable read by LoadConfigFromEnv.
const EnvPrefix = "AUTHCORE_"

// LoadConfigFromEnv loads an optional .env file from the working directory
// (or the files named in paths), then overlays AUTHCORE_* variables onto
// DefaultConfig and validates the result.
func LoadConfigFromEnv(paths ...string) (Config, error) {
	if err := godotenv.Load(paths...); err != nil && (len(paths) > 0 || !errors.Is(err, os.ErrNotExist)) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be at least 32 bytes")
	}
	if strings.TrimSpace(c.Token.Issuer) == "" {
		return errors.New("Token Issuer must be set")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.PendingTTL <= 0 {
		return errors.New("Token PendingTTL must be > 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Two-factor
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be between 0 and 2")
	}
	if c.TwoFactor.BackupCodeCount <= 0 || c.TwoFactor.BackupCodeCount > 20 {
		return errors.New("TwoFactor BackupCodeCount must be between 1 and 20")
	}
	if c.TwoFactor.BackupCodeLen < 8 {
		return errors.New("TwoFactor BackupCodeLen must be >= 8")
	}

	// Verification
	if c.Verification.EmailTTL <= 0 || c.Verification.PhoneTTL <= 0 {
		return errors.New("Verification TTLs must be > 0")
	}
	if c.Verification.Digits < 4 || c.Verification.Digits > 10 {
		return errors.New("Verification Digits must be between 4 and 10")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}

	// OAuth
	if c.OAuth.RequestTimeout <= 0 {
		return errors.New("OAuth RequestTimeout must be > 0")
	}
	if c.OAuth.MaxRetries < 1 {
		return errors.New("OAuth MaxRetries must be >= 1")
	}

	// Security
	if strings.TrimSpace(c.Security.DefaultRole) == "" {
		return errors.New("Security DefaultRole must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
