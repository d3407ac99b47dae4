package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHandle prepares a user-supplied handle for resolution.
//
// Surrounding whitespace, a leading "@" and bidirectional control characters
// (often picked up when copying a handle out of rendered text) are removed,
// then the result is NFC-normalized and lower-cased.
func NormalizeHandle(handle string) string {
	t := transform.Chain(runes.Remove(runes.In(unicode.Bidi_Control)), norm.NFC)
	cleaned, _, err := transform.String(t, handle)
	if err != nil {
		cleaned = strings.Map(func(r rune) rune {
			if unicode.Is(unicode.Bidi_Control, r) {
				return -1
			}
			return r
		}, handle)
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "@")
	return strings.ToLower(strings.TrimSpace(cleaned))
}

// HandleHasDomain reports whether handle is domain itself or a subdomain of it.
func HandleHasDomain(handle, domain string) bool {
	domain = strings.ToLower(strings.Trim(domain, ". "))
	if domain == "" {
		return false
	}
	return handle == domain || strings.HasSuffix(handle, "."+domain)
}
