package logutil

import "strings"

// SanitizeForLog strips newlines and other control characters from strings
// that originate outside the process (request paths, backend stderr) so
// they cannot inject fake log entries.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32:
			return -1
		}
		return r
	}, s)
}
