package auth

import (
	"regexp"
	"time"
)

// DefaultExpiry is used when an expiry expression cannot be parsed.
const DefaultExpiry = 15 * time.Minute

var expiryPattern = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

// ParseExpiry converts a duration expression such as "30s", "15m", "2h" or
// "30d" into a duration. Malformed expressions fall back to DefaultExpiry
// rather than failing, so a bad env value never locks everyone out.
func ParseExpiry(expr string) time.Duration {
	match := expiryPattern.FindStringSubmatch(expr)
	if match == nil {
		return DefaultExpiry
	}

	var n time.Duration
	for _, c := range match[1] {
		n = n*10 + time.Duration(c-'0')
	}

	switch match[2] {
	case "s":
		return n * time.Second
	case "m":
		return n * time.Minute
	case "h":
		return n * time.Hour
	case "d":
		return n * 24 * time.Hour
	}
	return DefaultExpiry
}
