package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/internal/otp"
	"github.com/MrEthical07/authcore/store"
)

// VerificationContextLogin scopes the phone codes LoginWithOTP accepts.
// Login codes must be issued with IssueRequest.Context set to it.
const VerificationContextLogin = "login"

// VerificationCodeService issues and checks one-time codes for email and
// phone targets.
//
// Codes form an append-only log per (kind, target, context). Verify only
// looks at the newest matching record, so a new code supersedes older ones
// issued under the same context.
type VerificationCodeService struct {
	*core
	log *zap.Logger
}

// Issue stores a new code for req.Target and returns it. Delivering the code
// is the caller's job.
func (v *VerificationCodeService) Issue(ctx context.Context, req IssueRequest) (*IssuedCode, error) {
	ttl, err := v.ttl(req.Kind)
	if err != nil {
		return nil, err
	}
	target := normalizeTarget(req.Kind, req.Target)
	if target == "" {
		return nil, ErrInvalidInput.withField("target")
	}

	code, err := otp.NewNumeric(v.cfg.Verification.Digits)
	if err != nil {
		return nil, internalError("generate verification code", err)
	}

	now := v.now()
	rec := store.VerificationCode{
		ID:        ids.NewSortable(),
		AccountID: req.AccountID,
		Target:    target,
		Kind:      req.Kind,
		Context:   req.Context,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	rec.CodeHash = otp.HashBound(rec.ID, code)

	if err := v.store.InsertVerificationCode(ctx, rec); err != nil {
		return nil, internalError("insert verification code", err)
	}
	v.metrics.Inc(MetricVerificationIssued)

	issued := &IssuedCode{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Target:    target,
		Code:      code,
		ExpiresAt: rec.ExpiresAt,
		ExpiresIn: int64(ttl / time.Second),
	}
	if v.cfg.Verification.RevealCodes {
		issued.RevealedCode = code
	}
	return issued, nil
}

// Verify checks code against the newest record for (kind, target) and, on
// success, consumes it and marks the contact verified on every associate
// holding it. An empty codeContext matches any context.
func (v *VerificationCodeService) Verify(ctx context.Context, kind store.ContactKind, target, code, codeContext string) (*store.VerificationCode, error) {
	if _, err := v.ttl(kind); err != nil {
		return nil, err
	}
	target = normalizeTarget(kind, target)
	if target == "" {
		return nil, ErrInvalidInput.withField("target")
	}
	maxAttempts := v.cfg.Verification.MaxAttempts

	rec, err := v.store.LatestVerificationCode(ctx, kind, target, codeContext)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, internalError("load verification code", err)
	}

	now := v.now()
	switch {
	case rec.VerifiedAt != nil:
		return nil, ErrCodeAlreadyUsed
	case !now.Before(rec.ExpiresAt):
		return nil, ErrCodeExpired
	case rec.Attempts >= maxAttempts:
		v.metrics.Inc(MetricVerificationAttemptsExceeded)
		return nil, ErrAttemptsExceeded
	}

	if !otp.EqualHash(rec.CodeHash, otp.HashBound(rec.ID, strings.TrimSpace(code))) {
		v.metrics.Inc(MetricVerificationFailure)
		counted, err := v.store.IncrementVerificationAttempts(ctx, rec.ID, maxAttempts)
		if err != nil {
			return nil, internalError("increment attempts", err)
		}
		if !counted {
			v.metrics.Inc(MetricVerificationAttemptsExceeded)
			return nil, ErrAttemptsExceeded
		}
		return nil, ErrInvalidCode
	}

	used, err := v.store.MarkVerificationCodeUsed(ctx, rec.ID, maxAttempts, now)
	if err != nil {
		return nil, internalError("consume verification code", err)
	}
	if !used {
		return nil, ErrCodeAlreadyUsed
	}
	rec.VerifiedAt = &now

	n, err := v.store.MarkContactVerified(ctx, kind, target)
	if err != nil {
		v.log.Error("mark contact verified", zap.String("kind", string(kind)), zap.Error(err))
		return nil, internalError("mark contact verified", err)
	}

	v.metrics.Inc(MetricVerificationSuccess)
	v.emitAudit(ctx, AuditEvent{
		Type:      AuditCodeVerified,
		AccountID: rec.AccountID,
		Success:   true,
		Metadata:  map[string]string{"kind": string(kind), "associates": strconv.FormatInt(n, 10)},
	})
	return &rec, nil
}

func (v *VerificationCodeService) ttl(kind store.ContactKind) (time.Duration, error) {
	switch kind {
	case store.ContactEmail:
		return v.cfg.Verification.EmailTTL, nil
	case store.ContactPhone:
		return v.cfg.Verification.PhoneTTL, nil
	}
	return 0, ErrInvalidInput.withField("kind")
}
