package authcore

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/store"
)

// LoginOAuth logs in with an external identity.
//
// google and facebook tokens are resolved through the IdentityVerifier unless
// trustedServerFlow is set, in which case creds.ProviderID was already
// verified by a server-side callback. anonymous accepts creds.ProviderID as
// is. An unknown identity is attached to the account already holding its
// email, or gets a new account. Provider calls finish before any write.
func (s *SessionManager) LoginOAuth(ctx context.Context, provider store.Provider, creds OAuthCredentials, clientIP string, trustedServerFlow bool) (*LoginResult, error) {
	if !oauthProvider(provider) {
		return nil, ErrUnsupportedProvider.withField("provider")
	}

	profile, err := s.resolveProfile(ctx, provider, creds, trustedServerFlow)
	if err != nil {
		s.metrics.Inc(MetricOAuthLoginFailure)
		s.emitAudit(ctx, AuditEvent{Type: AuditOAuthLogin, Provider: string(provider), IP: clientIP, Error: errorCode(err)})
		return nil, err
	}

	assoc, err := s.store.FindAssociate(ctx, provider, profile.ProviderID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		assoc, err = s.attachOrCreate(ctx, provider, profile)
		if err != nil {
			return nil, err
		}
	default:
		return nil, internalError("find associate", err)
	}

	s.metrics.Inc(MetricOAuthLoginSuccess)
	s.emitAudit(ctx, AuditEvent{Type: AuditOAuthLogin, AccountID: assoc.AccountID, Provider: string(provider), IP: clientIP, Success: true})
	return s.completeLogin(ctx, assoc.AccountID, provider, clientIP)
}

func oauthProvider(p store.Provider) bool {
	switch p {
	case store.ProviderGoogle, store.ProviderFacebook, store.ProviderAnonymous:
		return true
	}
	return false
}

func (s *SessionManager) resolveProfile(ctx context.Context, provider store.Provider, creds OAuthCredentials, trustedServerFlow bool) (ExternalProfile, error) {
	if provider == store.ProviderAnonymous || trustedServerFlow {
		id := strings.TrimSpace(creds.ProviderID)
		if id == "" {
			return ExternalProfile{}, ErrInvalidInput.withField("provider_id")
		}
		profile := ExternalProfile{ProviderID: id, Nickname: creds.Nickname}
		if trustedServerFlow {
			profile.Email = creds.Email
		}
		return profile, nil
	}

	if creds.AccessToken == "" {
		return ExternalProfile{}, ErrInvalidProviderToken.withField("access_token")
	}
	if s.verifier == nil {
		return ExternalProfile{}, ErrProviderUnavailable.wrap(errors.New("no identity verifier configured"))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.OAuth.RequestTimeout)
	defer cancel()

	profile, err := s.verifier.Verify(callCtx, provider, creds.AccessToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidProviderToken), errors.Is(err, ErrProviderUnavailable):
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			err = ErrProviderUnavailable.wrap(err)
		default:
			err = ErrInvalidProviderToken.wrap(err)
		}
		if errors.Is(err, ErrProviderUnavailable) {
			s.metrics.Inc(MetricProviderUnavailable)
			s.log.Warn("identity provider unavailable", zap.String("provider", string(provider)), zap.Error(err))
		}
		return ExternalProfile{}, err
	}
	if profile.ProviderID == "" {
		return ExternalProfile{}, ErrInvalidProviderToken
	}
	if profile.Nickname == "" {
		profile.Nickname = creds.Nickname
	}
	return profile, nil
}

// attachOrCreate binds a first-seen external identity. The earliest
// associate holding the same verified email owns it; otherwise a new account
// is created together with the associate. Unverified claims never attract an
// external identity.
func (s *SessionManager) attachOrCreate(ctx context.Context, provider store.Provider, profile ExternalProfile) (store.Associate, error) {
	email := normalizeEmail(profile.Email)
	now := s.now()
	assoc := store.Associate{
		ID:            ids.NewRandom(),
		Provider:      provider,
		ProviderRefID: profile.ProviderID,
		Email:         email,
		EmailVerified: email != "",
		CreatedAt:     now,
	}

	if email != "" {
		owner, err := s.store.FindVerifiedAssociateByEmail(ctx, email)
		switch {
		case err == nil:
			assoc.AccountID = owner.AccountID
			if err := s.store.CreateAssociate(ctx, assoc); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return s.findAfterRace(ctx, provider, profile.ProviderID)
				}
				return store.Associate{}, internalError("attach associate", err)
			}
			s.metrics.Inc(MetricProviderLinked)
			s.emitAudit(ctx, AuditEvent{Type: AuditProviderLinked, AccountID: owner.AccountID, Provider: string(provider), Success: true})
			return assoc, nil
		case !errors.Is(err, store.ErrNotFound):
			return store.Associate{}, internalError("find associate by email", err)
		}
	}

	account := store.Account{
		ID:        ids.NewAccountID(),
		Role:      s.cfg.Security.DefaultRole,
		Nickname:  profile.Nickname,
		CreatedAt: now,
	}
	assoc.AccountID = account.ID
	if err := s.store.CreateAccountWithAssociate(ctx, account, assoc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return s.findAfterRace(ctx, provider, profile.ProviderID)
		}
		return store.Associate{}, internalError("create account", err)
	}
	s.emitAudit(ctx, AuditEvent{Type: AuditRegister, AccountID: account.ID, Provider: string(provider), Success: true})
	return assoc, nil
}

// LinkProvider binds (provider, refID) to accountID. For the password
// provider, refID is the email or phone and passwordHash is required.
func (s *SessionManager) LinkProvider(ctx context.Context, accountID string, provider store.Provider, refID, passwordHash string) (store.Associate, error) {
	if !provider.Valid() {
		return store.Associate{}, ErrUnsupportedProvider.withField("provider")
	}
	refID = strings.TrimSpace(refID)
	if provider == store.ProviderPassword {
		refID = normalizeIdentifier(refID)
	}
	if refID == "" {
		return store.Associate{}, ErrInvalidInput.withField("ref_id")
	}
	if provider == store.ProviderPassword && passwordHash == "" {
		return store.Associate{}, ErrInvalidInput.withField("password_hash")
	}

	if _, err := s.loadAccount(ctx, accountID); err != nil {
		return store.Associate{}, err
	}

	_, err := s.store.FindAssociate(ctx, provider, refID)
	switch {
	case err == nil:
		return store.Associate{}, ErrProviderAlreadyLinked
	case !errors.Is(err, store.ErrNotFound):
		return store.Associate{}, internalError("find associate", err)
	}

	assoc := store.Associate{
		ID:            ids.NewRandom(),
		AccountID:     accountID,
		Provider:      provider,
		ProviderRefID: refID,
		CreatedAt:     s.now(),
	}
	switch provider {
	case store.ProviderPassword:
		assoc.PasswordHash = passwordHash
		if strings.Contains(refID, "@") {
			assoc.Email = refID
		} else {
			assoc.Phone = refID
		}
	case store.ProviderPhone:
		assoc.Phone = refID
	}

	if err := s.store.CreateAssociate(ctx, assoc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Associate{}, ErrProviderAlreadyLinked
		}
		return store.Associate{}, internalError("link provider", err)
	}

	s.metrics.Inc(MetricProviderLinked)
	s.emitAudit(ctx, AuditEvent{Type: AuditProviderLinked, AccountID: accountID, Provider: string(provider), Success: true})
	return assoc, nil
}
