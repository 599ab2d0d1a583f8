package util

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTag trims and NFC-normalizes a tag so visually identical tags
// compare equal. Case is preserved; the domain prefix is lowercased.
func NormalizeTag(tag string) string {
	tag = norm.NFC.String(strings.TrimSpace(tag))
	if domain, value, ok := strings.Cut(tag, ":"); ok {
		return strings.ToLower(strings.TrimSpace(domain)) + ":" + strings.TrimSpace(value)
	}
	return tag
}

// SplitTag splits "domain:value" into its parts. Tags without a domain
// return an empty domain.
func SplitTag(tag string) (domain, value string) {
	if d, v, ok := strings.Cut(tag, ":"); ok {
		return d, v
	}
	return "", tag
}

// IsTextSafe reports whether s is valid UTF-8 free of control characters
func IsTextSafe(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// NormalizeTitle NFC-normalizes a title and collapses runs of whitespace
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(norm.NFC.String(title)), " ")
}
