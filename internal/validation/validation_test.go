package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName_EmptyAndWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"tab", "\t"},
		{"newline", "\n "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateName(tc.input, 1, 100)
			if !errors.Is(err, ErrNameEmpty) {
				t.Errorf("error = %v, want ErrNameEmpty", err)
			}
		})
	}
}

func TestValidateName_LengthBounds(t *testing.T) {
	if _, err := ValidateName("x", 2, 100); !errors.Is(err, ErrNameTooShort) {
		t.Errorf("short: error = %v, want ErrNameTooShort", err)
	}

	s100 := strings.Repeat("a", 100)
	got, err := ValidateName(s100, 1, 100)
	if err != nil {
		t.Fatalf("max boundary: err = %v", err)
	}
	if len([]rune(got)) != 100 {
		t.Errorf("max boundary: rune count = %d, want 100", len([]rune(got)))
	}
	if _, err := ValidateName(s100+"a", 1, 100); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("over max: err = %v, want ErrNameTooLong", err)
	}
}

func TestValidateName_InvalidChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"slash", "Anantapur/Kadapa"},
		{"question", "Leh?"},
		{"hash", "Pune#1"},
		{"control", "Go\x00a"},
		{"percent", "Surat%20"},
		{"ampersand", "Daman & Diu"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateName(tc.input, 1, 100)
			if !errors.Is(err, ErrNameInvalidChars) {
				t.Errorf("error = %v, want ErrNameInvalidChars", err)
			}
		})
	}
}

func TestValidateName_Valid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantNorm string
	}{
		{"simple", "Mumbai", "Mumbai"},
		{"with spaces", "North and Middle Andaman", "North and Middle Andaman"},
		{"country suffix", "Port Blair,IN", "Port Blair,IN"},
		{"periods", "Y.S.R. Kadapa", "Y.S.R. Kadapa"},
		{"apostrophe", "Ri-Bhoi's", "Ri-Bhoi's"},
		{"trimmed", "  Leh  ", "Leh"},
		{"devanagari", "दिल्ली", "दिल्ली"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateName(tc.input, 1, 100)
			if err != nil {
				t.Fatalf("ValidateName() err = %v", err)
			}
			if got != tc.wantNorm {
				t.Errorf("normalized = %q, want %q", got, tc.wantNorm)
			}
		})
	}
}

func TestUsableName(t *testing.T) {
	if got, ok := UsableName(" Chennai "); !ok || got != "Chennai" {
		t.Errorf("UsableName(Chennai) = %q, %v", got, ok)
	}
	for _, in := range []string{"", "  ", "X", "???"} {
		if _, ok := UsableName(in); ok {
			t.Errorf("UsableName(%q) = true, want false", in)
		}
	}
}
