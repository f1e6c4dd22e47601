package auth

import (
	"strings"
	"unicode/utf8"
)

// Password policy messages, one per rule. The first failing rule is the
// one reported.
const (
	msgTooShort  = "La contraseña debe tener al menos 12 caracteres"
	msgEmpty     = "La contraseña no puede estar vacía"
	msgNoUpper   = "Debe contener al menos una letra mayúscula (A-Z)"
	msgNoLower   = "Debe contener al menos una letra minúscula (a-z)"
	msgNoDigit   = "Debe contener al menos un número (0-9)"
	msgNoSpecial = "Debe contener al menos un carácter especial (!@#$%...)"
)

const specialChars = "!@#$%^&*(),.?\":{}|<>_-+=[]\\/~`"

const minPasswordLength = 12

// ValidatePassword checks password strength. It returns ok=false and the
// message of the first failing rule: minimum length, not all whitespace,
// then required character classes.
func ValidatePassword(password string) (ok bool, message string) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return false, msgTooShort
	}
	if strings.TrimSpace(password) == "" {
		return false, msgEmpty
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(specialChars, r):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return false, msgNoUpper
	case !hasLower:
		return false, msgNoLower
	case !hasDigit:
		return false, msgNoDigit
	case !hasSpecial:
		return false, msgNoSpecial
	}
	return true, ""
}
