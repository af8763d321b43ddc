package oauthverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/logging"
	"github.com/MrEthical07/authcore/store"
)

const (
	DefaultGoogleUserInfoURL   = "https://openidconnect.googleapis.com/v1/userinfo"
	DefaultFacebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email"
)

// maxProfileBytes caps how much of a userinfo response is read.
const maxProfileBytes = 1 << 20

var errMissingSubject = errors.New("provider profile has no subject id")

// Config configures a Verifier. Zero values take defaults.
type Config struct {
	GoogleUserInfoURL   string
	FacebookUserInfoURL string
	// MaxTries bounds attempts per Verify call, the first included.
	MaxTries        int
	InitialInterval time.Duration
	// HTTPClient is the base transport under the bearer wrapper.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ConfigFrom maps the core's OAuth settings onto a Config.
func ConfigFrom(c authcore.OAuthConfig) Config {
	return Config{MaxTries: c.MaxRetries}
}

// Verifier resolves provider access tokens to profiles.
type Verifier struct {
	endpoints  map[store.Provider]endpoint
	maxTries   uint
	initial    time.Duration
	httpClient *http.Client
	log        *zap.Logger
}

var _ authcore.IdentityVerifier = (*Verifier)(nil)

type endpoint struct {
	url    string
	decode func([]byte) (authcore.ExternalProfile, error)
}

// New returns a Verifier for google and facebook.
func New(cfg Config) *Verifier {
	if cfg.GoogleUserInfoURL == "" {
		cfg.GoogleUserInfoURL = DefaultGoogleUserInfoURL
	}
	if cfg.FacebookUserInfoURL == "" {
		cfg.FacebookUserInfoURL = DefaultFacebookUserInfoURL
	}
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Verifier{
		endpoints: map[store.Provider]endpoint{
			store.ProviderGoogle:   {url: cfg.GoogleUserInfoURL, decode: decodeGoogle},
			store.ProviderFacebook: {url: cfg.FacebookUserInfoURL, decode: decodeFacebook},
		},
		maxTries:   uint(cfg.MaxTries),
		initial:    cfg.InitialInterval,
		httpClient: cfg.HTTPClient,
		log:        logging.Named(cfg.Logger, "oauthverify"),
	}
}

// Verify fetches the profile behind accessToken. Errors are authcore
// provider errors: ErrProviderUnavailable for transient failures,
// ErrInvalidProviderToken otherwise.
func (v *Verifier) Verify(ctx context.Context, provider store.Provider, accessToken string) (authcore.ExternalProfile, error) {
	ep, ok := v.endpoints[provider]
	if !ok {
		return authcore.ExternalProfile{}, authcore.NewProviderError(false, fmt.Errorf("no userinfo endpoint for %q", provider))
	}
	if accessToken == "" {
		return authcore.ExternalProfile{}, authcore.NewProviderError(false, errors.New("empty access token"))
	}

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, v.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = v.initial

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return v.fetch(ctx, client, ep.url)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(v.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			v.log.Debug("retrying userinfo request",
				zap.String("provider", string(provider)),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		transient := isTransient(err)
		if transient {
			v.log.Warn("provider unavailable", zap.String("provider", string(provider)), zap.Error(err))
		}
		return authcore.ExternalProfile{}, authcore.NewProviderError(transient, err)
	}

	profile, err := ep.decode(body)
	if err != nil {
		return authcore.ExternalProfile{}, authcore.NewProviderError(false, err)
	}
	return profile, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("userinfo request failed: %d %s", e.code, http.StatusText(e.code))
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func (v *Verifier) fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBytes))
		serr := &statusError{code: resp.StatusCode}
		if serr.retryable() {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// isTransient reports whether a final fetch error should surface as
// provider unavailability.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.retryable()
	}
	// Anything else is a transport failure.
	return true
}

func decodeGoogle(body []byte) (authcore.ExternalProfile, error) {
	var payload struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return authcore.ExternalProfile{}, fmt.Errorf("decode google profile: %w", err)
	}
	if payload.Sub == "" {
		return authcore.ExternalProfile{}, errMissingSubject
	}
	profile := authcore.ExternalProfile{ProviderID: payload.Sub, Nickname: payload.Name}
	// Unverified Google addresses are not trusted for account matching.
	if payload.EmailVerified {
		profile.Email = payload.Email
	}
	return profile, nil
}

func decodeFacebook(body []byte) (authcore.ExternalProfile, error) {
	var payload struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return authcore.ExternalProfile{}, fmt.Errorf("decode facebook profile: %w", err)
	}
	if payload.ID == "" {
		return authcore.ExternalProfile{}, errMissingSubject
	}
	return authcore.ExternalProfile{ProviderID: payload.ID, Email: payload.Email, Nickname: payload.Name}, nil
}
