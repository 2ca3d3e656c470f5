package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"11111111":    {},
	"letmein1":    {},
}

// Validate checks the password against the policy. Lengths count runes.
func (h Hasher) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < h.Policy.MinLength:
		return ErrPasswordTooShort
	case n > h.Policy.MaxLength:
		return ErrPasswordTooLong
	case h.Policy.RejectVeryWeak && veryWeak(password):
		return ErrWeakPassword
	}
	return nil
}

func veryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	sameRune, digits := true, true
	for _, r := range s {
		if r != first {
			sameRune = false
		}
		if !unicode.IsDigit(r) {
			digits = false
		}
	}
	return sameRune || (digits && utf8.RuneCountInString(s) < 12)
}
