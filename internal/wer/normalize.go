package wer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases a transcript, strips diacritics and punctuation, and
// collapses whitespace, so reference and hypothesis are compared on words
// alone.
func Normalize(s string) string {
	s = strings.ToLower(s)
	// The chain is stateful, so it is built per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Words normalizes a transcript and splits it into words.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}
