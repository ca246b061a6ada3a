// Package handle extracts channel handles from free-form message text.
package handle

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"
)

const (
	linkMarker   = "t.me/"
	minBareLen   = 4
	handlePrefix = "@"
)

var bareHandle = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Link is a link entity attached to a message. When URL is empty the link
// text is cut from the message using Offset and Length, which count UTF-16
// code units.
type Link struct {
	URL    string
	Offset int
	Length int
}

// Extract returns the first handle found in links, falling back to text.
// ok is false for messages that do not mention a channel.
func Extract(text string, links []Link) (string, bool) {
	for _, link := range links {
		raw := link.URL
		if raw == "" {
			raw = utf16Slice(text, link.Offset, link.Length)
		}
		if h, ok := FromText(raw); ok {
			return h, true
		}
	}
	return FromText(text)
}

// FromText applies the text rules: a t.me link, an @-handle, or a bare token.
func FromText(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	var candidate string
	switch {
	case strings.Contains(text, linkMarker):
		rest := strings.Fields(text[strings.LastIndex(text, linkMarker)+len(linkMarker):])
		if len(rest) == 0 {
			return "", false
		}
		candidate = stripPathAndQuery(rest[0])
	case strings.HasPrefix(text, handlePrefix):
		fields := strings.Fields(text[len(handlePrefix):])
		if len(fields) == 0 {
			return "", false
		}
		candidate = stripPathAndQuery(fields[0])
	case len(text) >= minBareLen && bareHandle.MatchString(text):
		candidate = text
	default:
		return "", false
	}

	candidate = Normalize(candidate)
	if candidate == "" {
		return "", false
	}
	return candidate, true
}

// Normalize removes embedded @ signs and whitespace. Case is preserved.
func Normalize(h string) string {
	return strings.Map(func(r rune) rune {
		if r == '@' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, h)
}

func stripPathAndQuery(s string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func utf16Slice(text string, offset, length int) string {
	if offset < 0 || length <= 0 {
		return ""
	}
	units := utf16.Encode([]rune(text))
	if offset >= len(units) {
		return ""
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[offset:end]))
}
