package authcore

import (
	"errors"

	"github.com/MrEthical07/authcore/password"
)

// PasswordHasher applies the password policy and hashes with argon2id.
// Legacy bcrypt hashes still verify.
type PasswordHasher struct {
	argon *password.Argon2
}

// Hash checks the policy and returns an argon2id PHC string.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	if err := password.CheckPolicy(plain); err != nil {
		var pe *password.PolicyError
		if errors.As(err, &pe) {
			e := ErrPasswordPolicy.withField("password")
			e.Message = pe.Error()
			return "", e.wrap(pe)
		}
		return "", ErrPasswordPolicy.withField("password").wrap(err)
	}
	return h.hash(plain)
}

// hash skips the policy. Rehashing on login must not lock out users whose
// passwords predate it.
func (h *PasswordHasher) hash(plain string) (string, error) {
	encoded, err := h.argon.Hash(plain)
	if err != nil {
		return "", internalError("hash password", err)
	}
	return encoded, nil
}

// Verify reports whether plain matches encoded. Malformed hashes never match.
func (h *PasswordHasher) Verify(plain, encoded string) bool {
	if encoded == "" {
		return false
	}
	ok, err := h.argon.Verify(plain, encoded)
	return err == nil && ok
}

// NeedsUpgrade reports whether encoded is bcrypt or weaker than the
// configured argon2id costs.
func (h *PasswordHasher) NeedsUpgrade(encoded string) bool {
	upgrade, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}
