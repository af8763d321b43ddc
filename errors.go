package authcore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an *Error for callers that map errors to transport
// status codes.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindConflict
	KindNotFound
	KindAttemptsExceeded
	KindExpired
	KindAlreadyUsed
	KindTransientProvider
	KindRateLimited
)

var kindNames = [...]string{
	KindInternal:          "internal",
	KindValidation:        "validation",
	KindBadRequest:        "bad_request",
	KindUnauthorized:      "unauthorized",
	KindForbidden:         "forbidden",
	KindConflict:          "conflict",
	KindNotFound:          "not_found",
	KindAttemptsExceeded:  "attempts_exceeded",
	KindExpired:           "expired",
	KindAlreadyUsed:       "already_used",
	KindTransientProvider: "transient_provider",
	KindRateLimited:       "rate_limited",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Error is the single error type returned by authcore operations.
//
// Two errors match under errors.Is when their codes are equal, so callers
// compare against the exported sentinels even when the returned value
// carries a field, a different message or a wrapped cause.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.err != nil {
		return msg + ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.err }

// Is matches by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// wrap returns a copy of e carrying cause.
func (e *Error) wrap(cause error) *Error {
	out := *e
	out.err = cause
	return &out
}

// withField returns a copy of e naming the offending input field.
func (e *Error) withField(field string) *Error {
	out := *e
	out.Field = field
	return &out
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidInput        = newError(KindValidation, "invalid_input", "invalid input")
	ErrPasswordPolicy      = newError(KindValidation, "password_policy", "password policy violation")
	ErrUnsupportedProvider = newError(KindValidation, "unsupported_provider", "unsupported provider")

	ErrUserNotFound         = newError(KindUnauthorized, "user_not_found", "user not found")
	ErrInvalidPassword      = newError(KindUnauthorized, "invalid_password", "invalid password")
	ErrInvalidCredentials   = newError(KindUnauthorized, "invalid_credentials", "invalid credentials")
	ErrVerificationRequired = newError(KindUnauthorized, "verification_required", "verification required")
	ErrInvalidToken         = newError(KindUnauthorized, "invalid_token", "invalid token")
	ErrInvalidOrExpired     = newError(KindUnauthorized, "invalid_or_expired", "invalid or expired token")
	ErrInvalidRefreshToken  = newError(KindUnauthorized, "invalid_refresh_token", "invalid refresh token")
	ErrInvalidCode          = newError(KindUnauthorized, "invalid_code", "invalid code")
	ErrTwoFactorNotEnabled  = newError(KindUnauthorized, "two_factor_not_enabled", "two-factor authentication not enabled")
	ErrInvalidProviderToken = newError(KindUnauthorized, "invalid_provider_token", "invalid provider token")

	ErrTwoFactorNotGenerated = newError(KindBadRequest, "two_factor_not_generated", "two-factor secret not generated")
	ErrTwoFactorInvalidCode  = newError(KindBadRequest, "two_factor_invalid_code", "invalid code")

	ErrForbidden = newError(KindForbidden, "forbidden", "forbidden")

	ErrAccountExists         = newError(KindConflict, "account_exists", "account already exists")
	ErrProviderAlreadyLinked = newError(KindConflict, "provider_already_linked", "provider already linked")

	ErrAccountNotFound = newError(KindNotFound, "account_not_found", "account not found")
	ErrCodeNotFound    = newError(KindNotFound, "code_not_found", "verification code not found")

	ErrAttemptsExceeded = newError(KindAttemptsExceeded, "attempts_exceeded", "too many attempts")
	ErrCodeExpired      = newError(KindExpired, "code_expired", "verification code expired")
	ErrCodeAlreadyUsed  = newError(KindAlreadyUsed, "code_already_used", "verification code already used")

	ErrProviderUnavailable = newError(KindTransientProvider, "provider_unavailable", "identity provider unavailable")
	ErrRateLimited         = newError(KindRateLimited, "rate_limited", "too many requests")

	ErrInternal = newError(KindInternal, "internal", "internal error")
)

// NewProviderError returns ErrInvalidProviderToken or, when transient is
// set, ErrProviderUnavailable, wrapping cause. IdentityVerifier
// implementations use it to report failures.
func NewProviderError(transient bool, cause error) error {
	if transient {
		return ErrProviderUnavailable.wrap(cause)
	}
	return ErrInvalidProviderToken.wrap(cause)
}

// NewRateLimitError wraps cause as ErrRateLimited. Limiter implementations
// use it to report a denied request.
func NewRateLimitError(cause error) error {
	return ErrRateLimited.wrap(cause)
}

func internalError(op string, cause error) error {
	return ErrInternal.wrap(fmt.Errorf("%s: %w", op, cause))
}
