package validation

import (
	"errors"
	"strings"
	"unicode"
)

// Name length bounds in runes for provider name queries.
const (
	MinNameLen = 2
	MaxNameLen = 100
)

// ErrNameEmpty is returned when a name is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("name is required")

// ErrNameTooShort is returned when name length is below the minimum.
var ErrNameTooShort = errors.New("name too short")

// ErrNameTooLong is returned when name length exceeds the maximum.
var ErrNameTooLong = errors.New("name too long")

// ErrNameInvalidChars is returned when a name contains disallowed characters.
var ErrNameInvalidChars = errors.New("name contains invalid characters")

// ValidateName trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to characters a provider city query can carry: letters and marks (Unicode),
// digits, space, comma, hyphen, period, apostrophe.
// Returns the trimmed string; a district whose name fails is not queried by name.
func ValidateName(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrNameEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrNameTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrNameTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrNameInvalidChars
		}
	}
	return s, nil
}

// UsableName reports whether name can be sent as a provider query, using the default bounds.
func UsableName(name string) (string, bool) {
	s, err := ValidateName(name, MinNameLen, MaxNameLen)
	return s, err == nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
