// Package answers canonicalizes free-text answers so that two teams typing the
// same thing with different case, accents or punctuation compare equal.
package answers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases, trims and strips diacritics: "  Canción " -> "cancion".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		// transform only fails on invalid UTF-8 input; fall back to the lowered text.
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// Canonical is the comparison form used when settling encounters: Normalize,
// then drop punctuation and symbols. Letters and digits of every script are
// kept, so "Москва" and "東京" survive intact.
func Canonical(s string) string {
	n := Normalize(s)
	var b strings.Builder
	b.Grow(len(n))
	for _, r := range n {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Equal reports whether a and b have the same canonical form.
func Equal(a, b string) bool {
	return Canonical(a) == Canonical(b)
}
