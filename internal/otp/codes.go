package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"unicode"
)

// BackupCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const opaqueTokenBytes = 32

var ErrInvalidDigits = errors.New("otp: invalid code length")

// NewNumeric returns a uniformly random decimal code of the given length.
func NewNumeric(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", ErrInvalidDigits
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewOpaqueToken returns 256 bits of randomness, base64url encoded.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewBackupCode returns length characters drawn from BackupCodeAlphabet.
func NewBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves for display.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode undoes FormatBackupCode and user typing noise.
func CanonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

// HashBound hashes value bound to owner, so equal codes of different owners
// never share a stored hash.
func HashBound(owner, value string) string {
	data := make([]byte, 0, len(owner)+1+len(value))
	data = append(data, owner...)
	data = append(data, 0)
	data = append(data, value...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashToken hashes a high-entropy opaque token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// EqualHash compares two hex hashes in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// IsNumeric reports whether s is a non-empty run of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
