package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Length caps for values copied from requests into log fields.
const (
	MaxPathLength          = 500
	MaxIDLength            = 128
	MaxErrorMessageLength  = 1000
	MaxGeneralStringLength = 2000

	tokenPrefixLength = 8
	truncatedSuffix   = "..."
)

// SanitizeString makes s safe to log: invalid UTF-8 and control characters
// are dropped, line breaks and tabs become spaces so one entry stays on one
// line, and the result is cut to maxLength bytes on a rune boundary.
// A non-positive maxLength means MaxGeneralStringLength.
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLength+len(truncatedSuffix)))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			r = ' '
		case !unicode.IsPrint(r):
			continue
		}
		if b.Len()+utf8.RuneLen(r) > maxLength {
			b.WriteString(truncatedSuffix)
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizePath sanitizes a request path.
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeID sanitizes a developer ID, provider key or external subject.
func SanitizeID(id string) string {
	return SanitizeString(id, MaxIDLength)
}

// SanitizeError returns the sanitized message of err, or "" for nil.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}

// RedactToken keeps a short prefix of a token, enough to correlate log
// lines without making the token replayable.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= tokenPrefixLength {
		return "[redacted]"
	}
	return SanitizeString(token[:tokenPrefixLength], tokenPrefixLength) + "...[redacted]"
}
