package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "authcore_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed password logins."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins denied by the limiter."},
	{ID: authcore.MetricLoginTwoFactorRequired, Name: "authcore_login_2fa_required_total", Help: "Logins answered with a pending 2FA token."},
	{ID: authcore.MetricTwoFactorLoginSuccess, Name: "authcore_login_2fa_success_total", Help: "Completed second-factor logins."},
	{ID: authcore.MetricTwoFactorLoginFailure, Name: "authcore_login_2fa_failure_total", Help: "Failed second-factor logins."},
	{ID: authcore.MetricOTPLoginSuccess, Name: "authcore_login_otp_success_total", Help: "Successful phone OTP logins."},
	{ID: authcore.MetricOAuthLoginSuccess, Name: "authcore_login_oauth_success_total", Help: "Successful OAuth logins."},
	{ID: authcore.MetricOAuthLoginFailure, Name: "authcore_login_oauth_failure_total", Help: "Failed OAuth logins."},
	{ID: authcore.MetricProviderUnavailable, Name: "authcore_provider_unavailable_total", Help: "Identity provider calls that failed transiently."},
	{ID: authcore.MetricProviderLinked, Name: "authcore_provider_linked_total", Help: "Provider identities linked to accounts."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Created password accounts."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Presentations of already rotated refresh tokens."},
	{ID: authcore.MetricAccessTokenIssued, Name: "authcore_access_token_issued_total", Help: "Issued access tokens."},
	{ID: authcore.MetricAccessTokenRejected, Name: "authcore_access_token_rejected_total", Help: "Rejected access tokens."},
	{ID: authcore.MetricDenylistAdded, Name: "authcore_denylist_added_total", Help: "Access tokens added to the denylist."},
	{ID: authcore.MetricDenylistLookupFailure, Name: "authcore_denylist_lookup_failure_total", Help: "Denylist lookups that failed."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricTOTPSuccess, Name: "authcore_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: authcore.MetricTOTPFailure, Name: "authcore_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: authcore.MetricBackupCodeFailed, Name: "authcore_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: authcore.MetricBackupCodeRegenerated, Name: "authcore_backup_code_regenerated_total", Help: "Backup-code regenerations."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_2fa_enabled_total", Help: "Second factors enabled."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_2fa_disabled_total", Help: "Second factors disabled."},
	{ID: authcore.MetricVerificationIssued, Name: "authcore_verification_issued_total", Help: "Issued verification codes."},
	{ID: authcore.MetricVerificationSuccess, Name: "authcore_verification_success_total", Help: "Accepted verification codes."},
	{ID: authcore.MetricVerificationFailure, Name: "authcore_verification_failure_total", Help: "Rejected verification codes."},
	{ID: authcore.MetricVerificationAttemptsExceeded, Name: "authcore_verification_attempts_exceeded_total", Help: "Verification codes locked by the attempt cap."},
	{ID: authcore.MetricPasswordRehashed, Name: "authcore_password_rehashed_total", Help: "Password hashes upgraded on login."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricVerifyLatency, Name: "authcore_access_token_verify_latency_seconds", Help: "Access-token verification latency."},
}

// HistogramBounds are the upper bounds of authcore.HistogramBuckets, in
// seconds.
var HistogramBounds = [authcore.HistogramBuckets]string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds as metric-name suffixes.
var HistogramBoundSuffix = [authcore.HistogramBuckets]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [authcore.HistogramBuckets]uint64 {
	var out [authcore.HistogramBuckets]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [authcore.HistogramBuckets]uint64) [authcore.HistogramBuckets]uint64 {
	var out [authcore.HistogramBuckets]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}
