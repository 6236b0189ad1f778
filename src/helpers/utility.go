package helpers

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a random identifier in its canonical string form.
func GenerateUUID() string {
	return uuid.New().String()
}

// StripQuotes trims surrounding whitespace and one matching pair of single
// or double quotes, as left behind by shell or env-file quoting.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if first, last := s[0], s[len(s)-1]; first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
