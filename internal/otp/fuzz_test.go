package otp

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// FuzzTOTPVerify feeds arbitrary secrets and codes. Malformed input must be
// rejected without panicking.
func FuzzTOTPVerify(f *testing.F) {
	totp := NewTOTP(TOTPConfig{Digits: 6, Period: 30, Skew: 1})
	secret, err := totp.GenerateSecret()
	if err == nil {
		f.Add(secret, "123456")
	}
	f.Add("", "")
	f.Add("JBSWY3DPEHPK3PXP", "000000")
	f.Add("!!!not-base32!!!", "12345a")
	f.Add("jbswy3dpehpk3pxp", " 123456 ")

	now := time.Unix(1_700_000_000, 0)
	f.Fuzz(func(t *testing.T, secret, code string) {
		ok, err := totp.Verify(secret, code, now)
		if err != nil && ok {
			t.Fatal("verify reported success with an error")
		}
		if !ok {
			return
		}
		// Accepted codes must match one of the steps in the window.
		for step := -1; step <= 1; step++ {
			want, err := totp.CodeAt(secret, now.Add(time.Duration(step)*30*time.Second))
			if err == nil && want == strings.TrimSpace(code) {
				return
			}
		}
		t.Fatalf("accepted code %q outside the window", code)
	})
}

// FuzzCanonicalizeBackupCode checks that canonicalization is idempotent and
// inverts FormatBackupCode.
func FuzzCanonicalizeBackupCode(f *testing.F) {
	f.Add("ABCDE-FGHJK")
	f.Add("abcde fghjk")
	f.Add("")
	f.Add("--")

	f.Fuzz(func(t *testing.T, code string) {
		if !utf8.ValidString(code) {
			t.Skip()
		}
		c := CanonicalizeBackupCode(code)
		if CanonicalizeBackupCode(c) != c {
			t.Fatalf("not idempotent for %q", code)
		}
		if CanonicalizeBackupCode(FormatBackupCode(c)) != c {
			t.Fatalf("format does not round trip for %q", c)
		}
	})
}
