package password

import (
	"fmt"
	"unicode"
)

const (
	MinLength = 8
	MaxLength = 20
)

// Policy rule names reported by PolicyError.
const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
	RuleSymbol    = "symbol"
)

// PolicyError names the first policy rule a password violates.
type PolicyError struct {
	Rule string
}

func (e *PolicyError) Error() string {
	switch e.Rule {
	case RuleMinLength:
		return fmt.Sprintf("password must be at least %d characters", MinLength)
	case RuleMaxLength:
		return fmt.Sprintf("password must be at most %d characters", MaxLength)
	case RuleUppercase:
		return "password must contain an uppercase letter"
	case RuleLowercase:
		return "password must contain a lowercase letter"
	case RuleDigit:
		return "password must contain a digit"
	case RuleSymbol:
		return "password must contain a symbol"
	}
	return "password policy violation"
}

// CheckPolicy enforces length 8-20 (in characters) and at least one
// uppercase letter, lowercase letter, digit and symbol.
func CheckPolicy(password string) error {
	n := len([]rune(password))
	if n < MinLength {
		return &PolicyError{Rule: RuleMinLength}
	}
	if n > MaxLength {
		return &PolicyError{Rule: RuleMaxLength}
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return &PolicyError{Rule: RuleUppercase}
	case !lower:
		return &PolicyError{Rule: RuleLowercase}
	case !digit:
		return &PolicyError{Rule: RuleDigit}
	case !symbol:
		return &PolicyError{Rule: RuleSymbol}
	}
	return nil
}
