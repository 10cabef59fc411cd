package customer

import (
	"regexp"
	"strings"
)

// DefaultCountryCode is prepended to local numbers entered without a country code.
const DefaultCountryCode = "+357"

var phoneJunk = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone turns staff input into an E.164-like destination.
// An empty or junk-only input yields "".
func NormalizePhone(raw string) string {
	s := phoneJunk.ReplaceAllString(strings.TrimSpace(raw), "")
	if s == "" || s == "+" {
		return ""
	}

	switch {
	case strings.HasPrefix(s, "+"):
	case strings.HasPrefix(s, "00"):
		s = "+" + s[2:]
	case strings.HasPrefix(s, strings.TrimPrefix(DefaultCountryCode, "+")) && len(s) > 8:
		s = "+" + s
	default:
		s = DefaultCountryCode + s
	}

	return s
}
