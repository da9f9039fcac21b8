package mutation

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// MaxSummaryRunes bounds sanitized text posted to external audit surfaces.
const MaxSummaryRunes = 2000

const truncationMarker = "... (truncated)"

var unsafeRunes = runes.Remove(runes.Predicate(func(r rune) bool {
	switch r {
	case ';', '&', '|', '>', '<', '`':
		return true
	case '\n', '\t':
		return false
	}
	return unicode.IsControl(r)
}))

// Sanitize prepares text for posting to a comment thread. Control characters and
// shell metacharacters are removed, '@' becomes the full-width '＠', and the result
// is capped at MaxSummaryRunes. Sanitize is idempotent.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	out, _, err := transform.String(unsafeRunes, text)
	if err != nil {
		out = text
	}
	out = strings.ReplaceAll(out, "@", "＠")
	if strings.HasSuffix(out, truncationMarker) {
		out = strings.TrimSuffix(out, truncationMarker)
		if utf8.RuneCountInString(out) <= MaxSummaryRunes {
			return out + truncationMarker
		}
	}
	if utf8.RuneCountInString(out) > MaxSummaryRunes {
		r := []rune(out)
		out = string(r[:MaxSummaryRunes]) + truncationMarker
	}
	return out
}

// Summary renders err as "<Kind>: <sanitized message>" for audit posting.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	var me *Error
	if !errors.As(err, &me) {
		return "Error: " + Sanitize(err.Error())
	}
	return kind.String() + ": " + Sanitize(me.Error())
}
