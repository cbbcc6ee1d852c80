package helpers

import "strings"

// SafeTruncate returns at most the first maxLen bytes of s.
// A negative maxLen yields an empty string.
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                  // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so that "https://idp.example.com/" and
// "https://idp.example.com" compare equal.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
