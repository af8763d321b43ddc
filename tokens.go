package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/internal/otp"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/store"
)

// TokenIssuer issues and verifies access, pending and refresh tokens.
//
// Access and pending tokens are signed JWTs. Refresh tokens are opaque; only
// their SHA-256 is stored, and every rotation revokes the presented token
// and links it to its successor.
type TokenIssuer struct {
	*core
	log *zap.Logger
	jwt *jwt.Manager
}

/*
====================================
ACCESS TOKENS
====================================
*/

// IssueAccessToken signs an access token for accountID and returns it with
// its lifetime in seconds.
func (t *TokenIssuer) IssueAccessToken(ctx context.Context, accountID, role string) (string, int64, error) {
	if accountID == "" {
		return "", 0, ErrInvalidInput.withField("account_id")
	}
	token, _, err := t.jwt.CreateAccess(accountID, role)
	if err != nil {
		return "", 0, internalError("sign access token", err)
	}
	t.metrics.Inc(MetricAccessTokenIssued)
	return token, int64(t.jwt.AccessTTL() / time.Second), nil
}

// VerifyAccessToken checks signature, issuer, expiry and purpose, then the
// denylist. A failed denylist lookup rejects the token.
func (t *TokenIssuer) VerifyAccessToken(ctx context.Context, token string) (*AccessClaims, error) {
	start := time.Now()
	defer func() { t.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()

	claims, err := t.jwt.ParseAccess(token)
	if err != nil {
		t.metrics.Inc(MetricAccessTokenRejected)
		return nil, ErrInvalidToken.wrap(err)
	}

	denied, err := t.denylist.IsDenylisted(ctx, claims.ID, t.now())
	if err != nil {
		t.metrics.Inc(MetricDenylistLookupFailure)
		t.metrics.Inc(MetricAccessTokenRejected)
		t.log.Error("denylist lookup failed", zap.String("jti", claims.ID), zap.Error(err))
		return nil, ErrInvalidToken.wrap(err)
	}
	if denied {
		t.metrics.Inc(MetricAccessTokenRejected)
		return nil, ErrInvalidToken
	}

	return &AccessClaims{
		AccountID: claims.Subject,
		Role:      claims.Role,
		JTI:       claims.ID,
		Issuer:    claims.Issuer,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// DenylistAccessToken invalidates rawToken until its own expiry. Empty,
// expired or otherwise unverifiable tokens are ignored.
func (t *TokenIssuer) DenylistAccessToken(ctx context.Context, rawToken, accountID, reason string) error {
	if rawToken == "" {
		return nil
	}
	claims, err := t.jwt.ParseAccess(rawToken)
	if err != nil {
		return nil
	}
	if accountID == "" {
		accountID = claims.Subject
	}

	entry := store.DenylistEntry{
		JTI:       claims.ID,
		AccountID: accountID,
		ExpiresAt: claims.ExpiresAt.Time,
		Reason:    reason,
		CreatedAt: t.now(),
	}
	if err := t.denylist.UpsertDenylistEntry(ctx, entry); err != nil {
		return internalError("denylist access token", err)
	}
	t.metrics.Inc(MetricDenylistAdded)
	return nil
}

// PurgeExpired removes denylist entries whose tokens have expired anyway.
func (t *TokenIssuer) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := t.denylist.PurgeExpiredDenylist(ctx, t.now())
	if err != nil {
		return 0, internalError("purge denylist", err)
	}
	return n, nil
}

/*
====================================
PENDING 2FA TOKENS
====================================
*/

// IssuePendingTwoFactorToken signs a token whose only use is completing a
// 2FA challenge for accountID.
func (t *TokenIssuer) IssuePendingTwoFactorToken(ctx context.Context, accountID string) (string, int64, error) {
	token, _, err := t.jwt.CreatePending(accountID)
	if err != nil {
		return "", 0, internalError("sign pending token", err)
	}
	return token, int64(t.jwt.PendingTTL() / time.Second), nil
}

// VerifyPendingTwoFactorToken returns the account a pending token was
// issued for.
func (t *TokenIssuer) VerifyPendingTwoFactorToken(ctx context.Context, token string) (string, error) {
	claims, err := t.verifyPending(ctx, token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (t *TokenIssuer) verifyPending(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := t.jwt.ParsePending(token)
	if err != nil {
		return nil, ErrInvalidOrExpired.wrap(err)
	}
	denied, err := t.denylist.IsDenylisted(ctx, claims.ID, t.now())
	if err != nil {
		t.metrics.Inc(MetricDenylistLookupFailure)
		t.log.Error("denylist lookup failed", zap.String("jti", claims.ID), zap.Error(err))
		return nil, ErrInvalidOrExpired.wrap(err)
	}
	if denied {
		return nil, ErrInvalidOrExpired
	}
	return claims, nil
}

// spendPending claims the jti of a completed pending token. Only the first
// claim succeeds; later or concurrent presentations get ErrInvalidOrExpired.
func (t *TokenIssuer) spendPending(ctx context.Context, claims *jwt.Claims) error {
	entry := store.DenylistEntry{
		JTI:       claims.ID,
		AccountID: claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
		Reason:    "2fa_completed",
		CreatedAt: t.now(),
	}
	claimed, err := t.denylist.ClaimDenylistEntry(ctx, entry)
	if err != nil {
		t.log.Error("spend pending token failed", zap.String("account_id", claims.Subject), zap.Error(err))
		return internalError("spend pending token", err)
	}
	if !claimed {
		return ErrInvalidOrExpired
	}
	return nil
}

/*
====================================
REFRESH TOKENS
====================================
*/

func (t *TokenIssuer) newRefreshRecord(accountID, clientIP string) (store.RefreshToken, string, error) {
	raw, err := otp.NewOpaqueToken()
	if err != nil {
		return store.RefreshToken{}, "", err
	}
	now := t.now()
	return store.RefreshToken{
		ID:          ids.NewSortable(),
		AccountID:   accountID,
		TokenHash:   otp.HashToken(raw),
		CreatedAt:   now,
		ExpiresAt:   now.Add(t.cfg.Token.RefreshTTL),
		CreatedByIP: clientIP,
	}, raw, nil
}

// IssueRefreshToken starts a new refresh chain for accountID and returns the
// raw token. Only its hash is persisted.
func (t *TokenIssuer) IssueRefreshToken(ctx context.Context, accountID, clientIP string) (string, error) {
	rec, raw, err := t.newRefreshRecord(accountID, clientIP)
	if err != nil {
		return "", internalError("generate refresh token", err)
	}
	if err := t.store.InsertRefreshToken(ctx, rec); err != nil {
		return "", internalError("insert refresh token", err)
	}
	return raw, nil
}

// RotateRefreshToken revokes presented and issues its successor in one
// store operation. Of concurrent rotations of the same token exactly one
// succeeds; every other presentation fails with ErrInvalidRefreshToken.
func (t *TokenIssuer) RotateRefreshToken(ctx context.Context, presented, clientIP string) (store.Account, string, error) {
	if presented == "" {
		t.metrics.Inc(MetricRefreshFailure)
		return store.Account{}, "", ErrInvalidRefreshToken
	}

	// AccountID is filled in by the store from the revoked token.
	successor, raw, err := t.newRefreshRecord("", clientIP)
	if err != nil {
		return store.Account{}, "", internalError("generate refresh token", err)
	}

	presentedHash := otp.HashToken(presented)
	old, err := t.store.RotateRefreshToken(ctx, presentedHash, successor, t.now())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrRefreshReused):
		t.metrics.Inc(MetricRefreshFailure)
		t.onReuse(ctx, presentedHash, clientIP)
		return store.Account{}, "", ErrInvalidRefreshToken
	case errors.Is(err, store.ErrNotFound):
		t.metrics.Inc(MetricRefreshFailure)
		return store.Account{}, "", ErrInvalidRefreshToken
	default:
		t.log.Error("rotate refresh token", zap.Error(err))
		return store.Account{}, "", internalError("rotate refresh token", err)
	}

	account, err := t.store.GetAccount(ctx, old.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Account{}, "", ErrInvalidRefreshToken
		}
		return store.Account{}, "", internalError("load account", err)
	}

	t.metrics.Inc(MetricRefreshSuccess)
	t.emitAudit(ctx, AuditEvent{Type: AuditRefreshRotated, AccountID: account.ID, IP: clientIP, Success: true})
	return account, raw, nil
}

func (t *TokenIssuer) onReuse(ctx context.Context, presentedHash, clientIP string) {
	t.metrics.Inc(MetricRefreshReuseDetected)

	tok, err := t.store.FindRefreshToken(ctx, presentedHash)
	if err != nil {
		t.log.Warn("refresh reuse detected, owner lookup failed", zap.Error(err))
		return
	}

	t.log.Warn("refresh reuse detected", zap.String("account_id", tok.AccountID), zap.String("token_id", tok.ID))
	t.emitAudit(ctx, AuditEvent{
		Type:      AuditRefreshReuse,
		AccountID: tok.AccountID,
		IP:        clientIP,
		Success:   false,
		Error:     ErrInvalidRefreshToken.Code,
	})

	if !t.cfg.Token.RevokeAllOnReuse {
		return
	}
	n, err := t.store.RevokeAllRefreshTokens(ctx, tok.AccountID, t.now())
	if err != nil {
		t.log.Error("revoke chain after reuse", zap.String("account_id", tok.AccountID), zap.Error(err))
		return
	}
	t.log.Info("revoked refresh tokens after reuse", zap.String("account_id", tok.AccountID), zap.Int64("count", n))
}

// RevokeRefreshToken revokes presented. When expectedAccountID is set it must
// own the token.
func (t *TokenIssuer) RevokeRefreshToken(ctx context.Context, presented, expectedAccountID string) error {
	if presented == "" {
		return ErrInvalidRefreshToken
	}
	hash := otp.HashToken(presented)

	tok, err := t.store.FindRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return internalError("find refresh token", err)
	}
	if !otp.EqualHash(tok.TokenHash, hash) {
		return ErrInvalidRefreshToken
	}
	if expectedAccountID != "" && !otp.EqualHash(tok.AccountID, expectedAccountID) {
		return ErrForbidden
	}
	if !tok.Live(t.now()) {
		return ErrInvalidRefreshToken
	}

	if err := t.store.RevokeRefreshToken(ctx, tok.ID, t.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return internalError("revoke refresh token", err)
	}
	return nil
}

// RevokeAllRefreshTokens revokes every live refresh token of accountID and
// returns how many were revoked.
func (t *TokenIssuer) RevokeAllRefreshTokens(ctx context.Context, accountID string) (int64, error) {
	n, err := t.store.RevokeAllRefreshTokens(ctx, accountID, t.now())
	if err != nil {
		return 0, internalError("revoke refresh tokens", err)
	}
	return n, nil
}
