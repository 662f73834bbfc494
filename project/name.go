// ABOUTME: Project identity: the Project record and operator-entered name normalisation.
// ABOUTME: Names become lowercase tokens over [a-z0-9_] leaving valid names untouched.
package project

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidName is returned when a name has no usable characters.
var ErrInvalidName = errors.New("project name must contain at least one letter or digit")

// Project is one entry of the registry.
type Project struct {
	Name string
	Tech string
}

// NormalizeName turns an operator-entered name into a project token.
// Surrounding whitespace is trimmed, the rest is lowercased, each
// whitespace rune or '-' becomes '_', and other characters outside
// [a-z0-9_] are dropped. A name that is already a valid token comes back
// unchanged.
func NormalizeName(raw string) (string, error) {
	var b strings.Builder
	hasWord := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			hasWord = true
		case r == '_' || r == '-' || unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	if !hasWord {
		return "", ErrInvalidName
	}
	return b.String(), nil
}
