package validation

import (
	"fmt"
	"unicode/utf8"
)

// MaxIdentifierLength bounds subject and flow identifiers.
const MaxIdentifierLength = 128

// IsValidIdentifierChar reports whether ch may appear in an identifier:
// ASCII letters, digits, hyphen, underscore and dot.
func IsValidIdentifierChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '_' || ch == '.'
}

// ValidateIdentifier checks that id is non-empty, bounded, made only of
// identifier characters and not a relative path element.
func ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if utf8.RuneCountInString(id) > MaxIdentifierLength {
		return fmt.Errorf("%s exceeds %d characters", kind, MaxIdentifierLength)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%s %q is reserved", kind, id)
	}
	for _, ch := range id {
		if !IsValidIdentifierChar(ch) {
			return fmt.Errorf("%s %q contains invalid character %q", kind, id, ch)
		}
	}
	return nil
}
