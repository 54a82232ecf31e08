package utils

import (
	"strings"
	"time"
	"unicode"
)

const maxLogStringLength = 256

// Now returns current time (swapped out in tests)
var Now = time.Now

// SanitizeLogString strips control characters and caps the length of
// client-supplied values before they reach the logs.
func SanitizeLogString(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return TruncateString(strings.TrimSpace(s), maxLogStringLength)
}

// TruncateString truncates a string to max length
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// ShortKey abbreviates a hex pubkey or event id for log lines.
func ShortKey(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
