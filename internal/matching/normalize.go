package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizePostalCode upper-cases a postal code and strips all whitespace,
// so "28 013" and "28013" or "sw1a 1aa" and "SW1A1AA" compare equal.
func NormalizePostalCode(s string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	// Casers are stateful; one per call keeps this safe for concurrent use.
	return cases.Upper(language.Und).String(stripped)
}
