package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/store"
)

// SessionManager drives the login state machine: credentials are checked,
// then either a session is issued or, when 2FA is enabled, a pending token
// that VerifyLoginTwoFactor exchanges for a session.
type SessionManager struct {
	*core
	log *zap.Logger

	hasher       *PasswordHasher
	tokens       *TokenIssuer
	twoFactor    *TwoFactorAuthenticator
	verification *VerificationCodeService
	verifier     IdentityVerifier
	limiter      Limiter
}

/*
====================================
REGISTRATION
====================================
*/

// Register creates an account with a password associate. The contact starts
// unverified, so Login fails until a verification code for it is verified.
func (s *SessionManager) Register(ctx context.Context, req RegisterRequest) (store.Account, error) {
	email := normalizeEmail(req.Email)
	phone := normalizePhone(req.Phone)
	if email == "" && phone == "" {
		return store.Account{}, ErrInvalidInput.withField("identifier")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return store.Account{}, err
	}

	if email != "" {
		if err := s.ensureUnclaimed(ctx, "email", email, s.store.FindAssociateByEmail); err != nil {
			return store.Account{}, err
		}
	}
	if phone != "" {
		if err := s.ensureUnclaimed(ctx, "phone", phone, s.store.FindAssociateByPhone); err != nil {
			return store.Account{}, err
		}
	}

	role := req.Role
	if role == "" {
		role = s.cfg.Security.DefaultRole
	}
	now := s.now()
	account := store.Account{
		ID:        ids.NewAccountID(),
		Role:      role,
		Nickname:  req.Nickname,
		CreatedAt: now,
	}
	refID := email
	if refID == "" {
		refID = phone
	}
	assoc := store.Associate{
		ID:            ids.NewRandom(),
		AccountID:     account.ID,
		Provider:      store.ProviderPassword,
		ProviderRefID: refID,
		Email:         email,
		Phone:         phone,
		PasswordHash:  hash,
		CreatedAt:     now,
	}

	if err := s.store.CreateAccountWithAssociate(ctx, account, assoc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.metrics.Inc(MetricRegisterDuplicate)
			return store.Account{}, ErrAccountExists
		}
		return store.Account{}, internalError("create account", err)
	}

	s.metrics.Inc(MetricRegisterSuccess)
	s.emitAudit(ctx, AuditEvent{Type: AuditRegister, AccountID: account.ID, Provider: string(store.ProviderPassword), Success: true})
	return account, nil
}

func (s *SessionManager) ensureUnclaimed(ctx context.Context, field, value string, find func(context.Context, string) (store.Associate, error)) error {
	_, err := find(ctx, value)
	switch {
	case err == nil:
		s.metrics.Inc(MetricRegisterDuplicate)
		return ErrAccountExists.withField(field)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return internalError("lookup "+field, err)
	}
}

/*
====================================
PASSWORD LOGIN
====================================
*/

// Login checks a password against the associate whose email or phone is
// identifier. Every contact on that associate must be verified.
func (s *SessionManager) Login(ctx context.Context, identifier, password, clientIP string) (*LoginResult, error) {
	ident := normalizeIdentifier(identifier)
	if ident == "" {
		return nil, ErrInvalidInput.withField("identifier")
	}
	limitKey := "login:" + ident
	if err := s.checkLimit(ctx, limitKey, clientIP); err != nil {
		return nil, err
	}

	assoc, err := s.store.FindPasswordAssociate(ctx, ident)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.credentialFailure(ctx, limitKey, "", clientIP, ErrUserNotFound)
		}
		return nil, internalError("find password associate", err)
	}
	if !s.hasher.Verify(password, assoc.PasswordHash) {
		return nil, s.credentialFailure(ctx, limitKey, assoc.AccountID, clientIP, ErrInvalidPassword)
	}

	if (assoc.Email != "" && !assoc.EmailVerified) || (assoc.Phone != "" && !assoc.PhoneVerified) {
		s.metrics.Inc(MetricLoginFailure)
		s.emitAudit(ctx, AuditEvent{Type: AuditLoginFailure, AccountID: assoc.AccountID, IP: clientIP, Error: ErrVerificationRequired.Code})
		return nil, ErrVerificationRequired
	}

	s.resetLimit(ctx, limitKey)
	s.maybeRehash(ctx, assoc, password)

	return s.completeLogin(ctx, assoc.AccountID, store.ProviderPassword, clientIP)
}

func (s *SessionManager) credentialFailure(ctx context.Context, limitKey, accountID, clientIP string, cause *Error) error {
	s.metrics.Inc(MetricLoginFailure)
	if s.limiter != nil {
		if err := s.limiter.RecordFailure(ctx, limitKey); err != nil {
			s.log.Warn("limiter record failure", zap.Error(err))
		}
	}
	s.emitAudit(ctx, AuditEvent{Type: AuditLoginFailure, AccountID: accountID, IP: clientIP, Error: cause.Code})

	if s.cfg.Security.GenericCredentialErrors {
		return ErrInvalidCredentials
	}
	return cause
}

func (s *SessionManager) maybeRehash(ctx context.Context, assoc store.Associate, password string) {
	if !s.cfg.Password.UpgradeOnLogin || !s.hasher.NeedsUpgrade(assoc.PasswordHash) {
		return
	}
	hash, err := s.hasher.hash(password)
	if err != nil {
		s.log.Warn("password rehash failed", zap.String("account_id", assoc.AccountID), zap.Error(err))
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, assoc.ID, hash); err != nil {
		s.log.Warn("password rehash store failed", zap.String("account_id", assoc.AccountID), zap.Error(err))
		return
	}
	s.metrics.Inc(MetricPasswordRehashed)
}

/*
====================================
2FA GATE
====================================
*/

// completeLogin issues a session, or a pending token when the account has
// 2FA enabled.
func (s *SessionManager) completeLogin(ctx context.Context, accountID string, provider store.Provider, clientIP string) (*LoginResult, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	enabled, err := s.twoFactorEnabled(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if enabled {
		pending, expiresIn, err := s.tokens.IssuePendingTwoFactorToken(ctx, accountID)
		if err != nil {
			return nil, err
		}
		s.metrics.Inc(MetricLoginTwoFactorRequired)
		s.emitAudit(ctx, AuditEvent{Type: AuditLoginTwoFactorRequired, AccountID: accountID, Provider: string(provider), IP: clientIP, Success: true})
		return &LoginResult{RequiresTwoFactor: true, PendingToken: pending, ExpiresIn: expiresIn}, nil
	}

	session, err := s.createSession(ctx, account, clientIP)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(MetricLoginSuccess)
	s.emitAudit(ctx, AuditEvent{Type: AuditLoginSuccess, AccountID: accountID, Provider: string(provider), IP: clientIP, Success: true})
	return &LoginResult{Session: session}, nil
}

func (s *SessionManager) twoFactorEnabled(ctx context.Context, accountID string) (bool, error) {
	cred, err := s.store.GetTwoFactor(ctx, accountID)
	switch {
	case err == nil:
		return cred.Enabled, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, internalError("load two-factor", err)
	}
}

// VerifyLoginTwoFactor exchanges a pending token and a TOTP or backup code
// for a session. Once the code checks out the pending token is claimed on the
// denylist, and only the claiming call gets a session.
func (s *SessionManager) VerifyLoginTwoFactor(ctx context.Context, pendingToken, code, clientIP string) (*Session, error) {
	claims, err := s.tokens.verifyPending(ctx, pendingToken)
	if err != nil {
		s.metrics.Inc(MetricTwoFactorLoginFailure)
		return nil, err
	}
	accountID := claims.Subject

	if err := s.twoFactor.VerifyLoginCode(ctx, accountID, code); err != nil {
		s.metrics.Inc(MetricTwoFactorLoginFailure)
		s.emitAudit(ctx, AuditEvent{Type: AuditTwoFactorLoginFailure, AccountID: accountID, IP: clientIP, Error: errorCode(err)})
		return nil, err
	}

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.spendPending(ctx, claims); err != nil {
		s.metrics.Inc(MetricTwoFactorLoginFailure)
		return nil, err
	}

	session, err := s.createSession(ctx, account, clientIP)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(MetricTwoFactorLoginSuccess)
	s.emitAudit(ctx, AuditEvent{Type: AuditTwoFactorLoginSuccess, AccountID: accountID, IP: clientIP, Success: true})
	return session, nil
}

/*
====================================
PHONE OTP LOGIN
====================================
*/

// LoginWithOTP logs in with a phone verification code issued under
// VerificationContextLogin, creating the phone account on first use. The 2FA gate applies only with
// Config.TwoFactor.EnforceOnOTPLogin.
func (s *SessionManager) LoginWithOTP(ctx context.Context, phone, code, clientIP string) (*LoginResult, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return nil, ErrInvalidInput.withField("phone")
	}
	limitKey := "otp:" + phone
	if err := s.checkLimit(ctx, limitKey, clientIP); err != nil {
		return nil, err
	}

	if _, err := s.verification.Verify(ctx, store.ContactPhone, phone, code, VerificationContextLogin); err != nil {
		if s.limiter != nil && KindOf(err) != KindInternal {
			if lerr := s.limiter.RecordFailure(ctx, limitKey); lerr != nil {
				s.log.Warn("limiter record failure", zap.Error(lerr))
			}
		}
		s.metrics.Inc(MetricLoginFailure)
		return nil, err
	}
	s.resetLimit(ctx, limitKey)

	assoc, err := s.findOrCreatePhoneAssociate(ctx, phone)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(MetricOTPLoginSuccess)
	s.emitAudit(ctx, AuditEvent{Type: AuditOTPLogin, AccountID: assoc.AccountID, Provider: string(store.ProviderPhone), IP: clientIP, Success: true})

	if s.cfg.TwoFactor.EnforceOnOTPLogin {
		return s.completeLogin(ctx, assoc.AccountID, store.ProviderPhone, clientIP)
	}

	account, err := s.loadAccount(ctx, assoc.AccountID)
	if err != nil {
		return nil, err
	}
	session, err := s.createSession(ctx, account, clientIP)
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(MetricLoginSuccess)
	return &LoginResult{Session: session}, nil
}

// findOrCreatePhoneAssociate resolves concurrent first logins through the
// (provider, provider_ref_id) constraint: the loser reads the winner's row.
func (s *SessionManager) findOrCreatePhoneAssociate(ctx context.Context, phone string) (store.Associate, error) {
	assoc, err := s.store.FindAssociate(ctx, store.ProviderPhone, phone)
	if err == nil {
		return assoc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Associate{}, internalError("find phone associate", err)
	}

	now := s.now()
	account := store.Account{
		ID:        ids.NewAccountID(),
		Role:      s.cfg.Security.DefaultRole,
		CreatedAt: now,
	}
	assoc = store.Associate{
		ID:            ids.NewRandom(),
		AccountID:     account.ID,
		Provider:      store.ProviderPhone,
		ProviderRefID: phone,
		Phone:         phone,
		PhoneVerified: true,
		CreatedAt:     now,
	}
	err = s.store.CreateAccountWithAssociate(ctx, account, assoc)
	switch {
	case err == nil:
		s.emitAudit(ctx, AuditEvent{Type: AuditRegister, AccountID: account.ID, Provider: string(store.ProviderPhone), Success: true})
		return assoc, nil
	case errors.Is(err, store.ErrDuplicate):
		return s.findAfterRace(ctx, store.ProviderPhone, phone)
	default:
		return store.Associate{}, internalError("create phone account", err)
	}
}

func (s *SessionManager) findAfterRace(ctx context.Context, provider store.Provider, refID string) (store.Associate, error) {
	assoc, err := s.store.FindAssociate(ctx, provider, refID)
	if err != nil {
		return store.Associate{}, internalError("find associate after duplicate", err)
	}
	return assoc, nil
}

/*
====================================
SESSIONS
====================================
*/

// Refresh rotates refreshToken and pairs the successor with a new access
// token.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken, clientIP string) (*Session, error) {
	account, next, err := s.tokens.RotateRefreshToken(ctx, refreshToken, clientIP)
	if err != nil {
		return nil, err
	}
	access, expiresIn, err := s.tokens.IssueAccessToken(ctx, account.ID, account.Role)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresIn:    expiresIn,
		TokenType:    TokenTypeBearer,
		Account:      account,
	}, nil
}

// Logout revokes refreshToken when given, failing if it cannot be revoked,
// and denylists accessToken best-effort.
func (s *SessionManager) Logout(ctx context.Context, accountID, refreshToken, accessToken string) error {
	if refreshToken != "" {
		if err := s.tokens.RevokeRefreshToken(ctx, refreshToken, accountID); err != nil {
			return err
		}
	}
	s.denylistBestEffort(ctx, accessToken, accountID, "logout")

	s.metrics.Inc(MetricLogout)
	s.emitAudit(ctx, AuditEvent{Type: AuditLogout, AccountID: accountID, Success: true})
	return nil
}

// LogoutAll revokes every refresh token of accountID and denylists
// accessToken best-effort.
func (s *SessionManager) LogoutAll(ctx context.Context, accountID, accessToken string) error {
	if accountID == "" {
		return ErrInvalidInput.withField("account_id")
	}
	n, err := s.tokens.RevokeAllRefreshTokens(ctx, accountID)
	if err != nil {
		return err
	}
	s.denylistBestEffort(ctx, accessToken, accountID, "logout_all")

	s.metrics.Inc(MetricLogoutAll)
	s.log.Info("logout all", zap.String("account_id", accountID), zap.Int64("revoked", n))
	s.emitAudit(ctx, AuditEvent{Type: AuditLogoutAll, AccountID: accountID, Success: true})
	return nil
}

func (s *SessionManager) denylistBestEffort(ctx context.Context, accessToken, accountID, reason string) {
	if accessToken == "" {
		return
	}
	if err := s.tokens.DenylistAccessToken(ctx, accessToken, accountID, reason); err != nil {
		s.log.Warn("denylist access token failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *SessionManager) createSession(ctx context.Context, account store.Account, clientIP string) (*Session, error) {
	access, expiresIn, err := s.tokens.IssueAccessToken(ctx, account.ID, account.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(ctx, account.ID, clientIP)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
		TokenType:    TokenTypeBearer,
		Account:      account,
	}, nil
}

func (s *SessionManager) loadAccount(ctx context.Context, accountID string) (store.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Account{}, ErrAccountNotFound
		}
		return store.Account{}, internalError("load account", err)
	}
	return account, nil
}

/*
====================================
LIMITER
====================================
*/

// checkLimit fails open when the limiter itself errors.
func (s *SessionManager) checkLimit(ctx context.Context, key, clientIP string) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.Check(ctx, key)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) {
		s.metrics.Inc(MetricLoginRateLimited)
		s.emitAudit(ctx, AuditEvent{Type: AuditLoginFailure, IP: clientIP, Error: ErrRateLimited.Code})
		return err
	}
	s.log.Warn("limiter check failed", zap.Error(err))
	return nil
}

func (s *SessionManager) resetLimit(ctx context.Context, key string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
}

func errorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}
