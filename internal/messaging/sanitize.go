package messaging

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy strips every element; text content is kept and entity-escaped.
var strictPolicy = bluemonday.StrictPolicy()

// Sanitize strips markup from raw client input and trims it.
// maxRunes <= 0 disables the length check.
func Sanitize(raw string, maxRunes int) (string, error) {
	clean := strings.TrimSpace(strictPolicy.Sanitize(raw))
	if clean == "" {
		return "", ErrEmptyMessage
	}
	if maxRunes > 0 && utf8.RuneCountInString(clean) > maxRunes {
		return "", ErrMessageTooLong
	}
	return clean, nil
}

// Preview shortens content for notifications, cutting on a rune boundary.
func Preview(content string, maxRunes int) string {
	if utf8.RuneCountInString(content) <= maxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxRunes]) + "…"
}
