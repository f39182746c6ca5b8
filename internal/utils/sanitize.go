// Package utils holds small helpers for safe terminal display.
package utils

import (
	"regexp"
	"strings"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// SanitizeCommand makes an untrusted command string safe to render in the
// terminal: ANSI sequences and control characters other than tab are
// dropped, and newlines become spaces so the command stays on one line.
func SanitizeCommand(s string) string {
	s = StripANSI(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r':
			return ' '
		case r < 0x20 && r != '\t':
			return -1
		default:
			return r
		}
	}, s)
}

// Truncate shortens s to maxLen runes of display, appending an ellipsis
// marker when anything was cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
