package validation

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Strict policy: removes all HTML tags. Initialized once at startup.
var strictHTMLPolicy = bluemonday.StrictPolicy()

// SanitizeText strips all HTML tags and attributes from an input string,
// preventing XSS before the value reaches the database.
func SanitizeText(s string) string {
	return strictHTMLPolicy.Sanitize(s)
}

// StripUnprintable removes non-printable characters, allowing common
// whitespace like space, tab, newline, and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}

// CleanUserText is the combined sanitizer applied to every free-text field
// accepted by the write handlers (notes, descriptions, wallet labels).
func CleanUserText(s string) string {
	return strings.TrimSpace(StripUnprintable(SanitizeText(s)))
}
