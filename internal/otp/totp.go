// Package otp implements one-time code primitives: RFC 6238 TOTP, numeric
// verification codes, backup codes and the hashes they are stored under.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

var (
	ErrEmptySecret          = errors.New("otp: empty totp secret")
	ErrInvalidSecret        = errors.New("otp: invalid totp secret encoding")
	ErrUnsupportedAlgorithm = errors.New("otp: unsupported totp algorithm")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPConfig holds the RFC 6238 parameters shared by generation and checks.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

// TOTP generates secrets and checks codes for one configuration.
type TOTP struct {
	config TOTPConfig
}

// NewTOTP fills zero fields with the authenticator-app defaults
// (SHA1, 6 digits, 30s period).
func NewTOTP(cfg TOTPConfig) *TOTP {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	return &TOTP{config: cfg}
}

// GenerateSecret returns a new random secret in unpadded base32.
func (t *TOTP) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth:// URI consumed by authenticator apps.
func (t *TOTP) ProvisionURI(secret, account string) string {
	issuer := t.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(t.config.Period))
	v.Set("digits", strconv.Itoa(t.config.Digits))
	v.Set("algorithm", strings.ToUpper(t.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify checks code against the steps within Skew of now.
func (t *TOTP) Verify(secret, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != t.config.Digits || !IsNumeric(trimmed) {
		return false, nil
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}

	base := now.Unix() / int64(t.config.Period)
	for step := -t.config.Skew; step <= t.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotp(key, counter, t.config.Digits, t.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// CodeAt returns the code valid for the step containing at.
func (t *TOTP) CodeAt(secret string, at time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, at.Unix()/int64(t.config.Period), t.config.Digits, t.config.Algorithm)
}

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key, err := secretEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
