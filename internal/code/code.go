// Package code implements the rendezvous code mint: generation,
// normalization, and shape validation of the human-shareable tokens used
// to look up a room.
package code

import (
	"regexp"
	"strings"

	"github.com/pion/randutil"
)

// Alphabet is the 31-symbol ambiguity-free charset: lowercase a-z minus
// i, l, o, plus digits 2-9 (minus 0, 1).
const Alphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const (
	groupLen    = 3
	groupCount  = 3
	significant = groupLen * groupCount
)

var shapePattern = regexp.MustCompile(`^[a-z0-9]{3}-[a-z0-9]{3}-[a-z0-9]{3}$`)

// Generate draws a new canonical code: 9 characters uniformly sampled
// from Alphabet via a cryptographically acceptable PRNG, grouped
// sss-sss-sss. Collision with an existing room code is the caller's
// responsibility (the registry redraws until unique).
func Generate() string {
	raw, err := randutil.GenerateCryptoRandomString(significant, Alphabet)
	if err != nil {
		panic("code: crypto random source failed: " + err.Error())
	}
	var b strings.Builder
	b.Grow(significant + groupCount - 1)
	for i, r := range raw {
		if i > 0 && i%groupLen == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize lowercases s, collapses runs of ASCII whitespace to a single
// hyphen, and trims leading/trailing hyphens and whitespace. It performs
// no glyph substitution — see SPEC_FULL.md's Open Question decision.
func Normalize(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v' {
			if !lastWasSpace {
				b.WriteByte('-')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}

	return strings.Trim(b.String(), "- \t\n\r\f\v")
}

// Validate reports whether s, after Normalize, matches the canonical
// shape sss-sss-sss over [a-z0-9]. This is intentionally broader than
// Alphabet: validation is shape-only, not charset-exact.
func Validate(s string) bool {
	return shapePattern.MatchString(Normalize(s))
}
