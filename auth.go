package authcore

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/store"
)

// core is the state shared by every component built from one Builder.
type core struct {
	cfg      Config
	store    store.CredentialStore
	denylist store.Denylist
	logger   *zap.Logger
	now      func() time.Time
	metrics  *Metrics
	audit    *audit.Dispatcher
}

// Auth is the assembled auth core. It is safe for concurrent use once built.
type Auth struct {
	*core

	hasher       *PasswordHasher
	tokens       *TokenIssuer
	twoFactor    *TwoFactorAuthenticator
	verification *VerificationCodeService
	sessions     *SessionManager
}

func (a *Auth) Passwords() *PasswordHasher             { return a.hasher }
func (a *Auth) Tokens() *TokenIssuer                   { return a.tokens }
func (a *Auth) TwoFactor() *TwoFactorAuthenticator     { return a.twoFactor }
func (a *Auth) Verification() *VerificationCodeService { return a.verification }
func (a *Auth) Sessions() *SessionManager              { return a.sessions }
func (a *Auth) Config() Config                         { return a.cfg }

// MetricsSnapshot returns a point-in-time copy of every counter.
func (a *Auth) MetricsSnapshot() MetricsSnapshot {
	return a.metrics.Snapshot()
}

// Close flushes pending audit events. The credential store is owned by the
// caller and left open.
func (a *Auth) Close() {
	a.audit.Close()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}

// normalizeIdentifier treats anything containing '@' as an email.
func normalizeIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return normalizeEmail(identifier)
	}
	return normalizePhone(identifier)
}

func normalizeTarget(kind store.ContactKind, target string) string {
	if kind == store.ContactEmail {
		return normalizeEmail(target)
	}
	return normalizePhone(target)
}
