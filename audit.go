package authcore

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/audit"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent = audit.Event

// AuditSink receives audit events off the request path.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditLoginSuccess           = "login_success"
	AuditLoginFailure           = "login_failure"
	AuditLoginTwoFactorRequired = "login_2fa_required"
	AuditTwoFactorLoginSuccess  = "login_2fa_success"
	AuditTwoFactorLoginFailure  = "login_2fa_failure"
	AuditOTPLogin               = "login_otp"
	AuditOAuthLogin             = "login_oauth"
	AuditRegister               = "register"
	AuditProviderLinked         = "provider_linked"
	AuditRefreshRotated         = "refresh_rotated"
	AuditRefreshReuse           = "refresh_reuse_detected"
	AuditLogout                 = "logout"
	AuditLogoutAll              = "logout_all"
	AuditTwoFactorEnabled       = "2fa_enabled"
	AuditTwoFactorDisabled      = "2fa_disabled"
	AuditBackupCodeUsed         = "backup_code_used"
	AuditBackupCodesRegenerated = "backup_codes_regenerated"
	AuditCodeVerified           = "verification_code_verified"
)

// NewChannelSink returns a sink that forwards events into a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapSink returns a sink logging events through logger.
func NewZapSink(logger *zap.Logger) *audit.ZapSink { return audit.NewZapSink(logger) }

func (c *core) emitAudit(ctx context.Context, event AuditEvent) {
	if c.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	c.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events were dropped under backpressure.
func (a *Auth) AuditDropped() uint64 {
	return a.audit.Dropped()
}
