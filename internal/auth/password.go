package auth

import (
	"strings"
	"unicode"
)

// PasswordSymbols is the punctuation set that satisfies the symbol rule.
const PasswordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// ValidatePassword enforces the client-side password policy. Rules are
// checked in a fixed order and the first violation is returned.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len([]rune(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return ErrPasswordNoUpper
	case !lower:
		return ErrPasswordNoLower
	case !digit:
		return ErrPasswordNoDigit
	case !symbol:
		return ErrPasswordNoSymbol
	}
	return nil
}

// ValidatePasswordChange checks a new password plus its confirmation, and
// for a change flow (current non-empty) that it differs from the old one.
func ValidatePasswordChange(current, next, confirm string) error {
	if err := ValidatePassword(next); err != nil {
		return err
	}
	if next != confirm {
		return ErrPasswordMismatch
	}
	if current != "" && current == next {
		return ErrSamePassword
	}
	return nil
}
