package authcore

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/otp"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/logging"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store"
)

// Builder assembles an Auth. Configure it once during initialization; a
// Builder can only Build once.
type Builder struct {
	config    Config
	store     store.CredentialStore
	denylist  store.Denylist
	logger    *zap.Logger
	clock     func() time.Time
	verifier  IdentityVerifier
	limiter   Limiter
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(s store.CredentialStore) *Builder {
	b.store = s
	return b
}

// WithDenylist moves access-token denylist lookups off the credential
// store, for example onto Redis.
func (b *Builder) WithDenylist(d store.Denylist) *Builder {
	b.denylist = d
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for every expiry decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithIdentityVerifier(v IdentityVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithLimiter(l Limiter) *Builder {
	b.limiter = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Auth, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	denylist := b.denylist
	if denylist == nil {
		denylist = b.store
	}

	c := &core{
		cfg:      cfg,
		store:    b.store,
		denylist: denylist,
		logger:   logger,
		now:      now,
		metrics:  NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	argon, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		PendingTTL:    cfg.Token.PendingTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.Token.Secret),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	hasher := &PasswordHasher{argon: argon}
	tokens := &TokenIssuer{core: c, log: logging.Named(logger, "tokens"), jwt: jm}
	twoFactor := &TwoFactorAuthenticator{
		core: c,
		log:  logging.Named(logger, "twofactor"),
		totp: otp.NewTOTP(otp.TOTPConfig{
			Issuer: cfg.TwoFactor.Issuer,
			Digits: cfg.TwoFactor.Digits,
			Period: cfg.TwoFactor.Period,
			Skew:   cfg.TwoFactor.Skew,
		}),
	}
	verification := &VerificationCodeService{core: c, log: logging.Named(logger, "verification")}
	sessions := &SessionManager{
		core:         c,
		log:          logging.Named(logger, "sessions"),
		hasher:       hasher,
		tokens:       tokens,
		twoFactor:    twoFactor,
		verification: verification,
		verifier:     b.verifier,
		limiter:      b.limiter,
	}

	b.built = true

	return &Auth{
		core:         c,
		hasher:       hasher,
		tokens:       tokens,
		twoFactor:    twoFactor,
		verification: verification,
		sessions:     sessions,
	}, nil
}
