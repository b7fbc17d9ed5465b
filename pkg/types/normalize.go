package types

import (
	"strings"
	"unicode"
)

// edgePunct is stripped from both ends of a normalized keyword.
const edgePunct = " .,!?;:"

// Normalize maps a raw keyword sighting to its canonical stored form:
// control characters removed, leading '#' stripped, internal whitespace
// collapsed to single spaces, casefolded, and edge punctuation trimmed.
// Edge trimming repeats until stable, so punctuation hiding a '#' prefix
// cannot leak into the stored form.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s). An empty
// result means the raw text carried nothing usable and the candidate should
// be dropped.
func Normalize(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)

	s = strings.Join(strings.Fields(s), " ")
	s = strings.ToLower(s)

	for {
		t := strings.TrimLeft(s, "#")
		t = strings.Trim(t, edgePunct)
		if t == s {
			return s
		}
		s = t
	}
}
