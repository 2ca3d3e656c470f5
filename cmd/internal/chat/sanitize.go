package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxMessageRunes   = 5000
	MaxRoomTitleRunes = 100
	MaxLoginRunes     = 100
	MaxPasswordRunes  = 128

	minUsernameRunes = 3
	maxUsernameRunes = 30
)

var stripper = strings.NewReplacer("<", "", ">", "", "\x00", "")

// Sanitize removes angle brackets and NUL bytes and trims surrounding space.
func Sanitize(s string) string {
	return strings.TrimSpace(stripper.Replace(s))
}

func validUsername(s string) bool {
	n := utf8.RuneCountInString(s)
	if n < minUsernameRunes || n > maxUsernameRunes {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func runes(s string) int { return utf8.RuneCountInString(s) }
