// Package textnorm provides the comparison-only text normalisation used to
// re-anchor comment phrases after the user edits their writing.
//
// Stored text is never normalised. Only comparisons go through [Normalize], so
// autocorrect-style substitutions (smart quotes, dashes, ellipses) do not break
// an anchor and do not alter what the user typed.
//
// All offsets in this package are rune offsets, not byte offsets.
package textnorm

import (
	"strings"
	"unicode"
)

// replacements maps typographic punctuation to its ASCII equivalent. Every
// entry except the ellipsis is a single rune, so rune indices are preserved.
var replacements = map[rune]string{
	'“': `"`, // left double quotation mark
	'”': `"`, // right double quotation mark
	'„': `"`, // double low-9 quotation mark
	'«': `"`,
	'»': `"`,
	'‘': "'", // left single quotation mark
	'’': "'", // right single quotation mark
	'‚': "'",
	'′': "'", // prime
	'–': "-", // en dash
	'—': "-", // em dash
	'−': "-", // minus sign
	'…': "...",
}

// Normalize lowercases text and maps typographic punctuation to ASCII.
// Lowercasing is applied rune by rune so it never changes the rune count.
func Normalize(text string) string {
	norm, _ := normalizeWithMap(text)
	return string(norm)
}

// FindPhrase reports the rune index of the first occurrence of phrase in
// haystack, comparing both sides after [Normalize]. The index is in
// normalised space. It returns -1 when phrase is empty or absent.
func FindPhrase(haystack, phrase string) int {
	if phrase == "" {
		return -1
	}
	h, _ := normalizeWithMap(haystack)
	p, _ := normalizeWithMap(phrase)
	return indexRunes(h, p)
}

// Contains reports whether phrase occurs in haystack under normalisation.
func Contains(haystack, phrase string) bool {
	return FindPhrase(haystack, phrase) >= 0
}

// Equal reports whether a and b are equal under normalisation.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Span is a half-open rune range [Start, End) in the original, un-normalised
// text.
type Span struct {
	Start int
	End   int
}

// Len returns the number of runes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one rune.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Locate finds phrase in haystack like [FindPhrase] but returns the matched
// range in original rune offsets of haystack.
func Locate(haystack, phrase string) (Span, bool) {
	if phrase == "" {
		return Span{}, false
	}
	h, origin := normalizeWithMap(haystack)
	p, _ := normalizeWithMap(phrase)
	i := indexRunes(h, p)
	if i < 0 {
		return Span{}, false
	}
	start := origin[i]
	end := origin[i+len(p)-1] + 1
	return Span{Start: start, End: end}, true
}

// normalizeWithMap returns the normalised runes of text together with, for
// each normalised rune, the index of the original rune it came from.
func normalizeWithMap(text string) ([]rune, []int) {
	out := make([]rune, 0, len(text))
	origin := make([]int, 0, len(text))
	i := 0
	for _, r := range text {
		if rep, ok := replacements[r]; ok {
			for _, rr := range rep {
				out = append(out, rr)
				origin = append(origin, i)
			}
		} else {
			out = append(out, unicode.ToLower(r))
			origin = append(origin, i)
		}
		i++
	}
	return out, origin
}

// indexRunes is strings.Index over rune slices, returning a rune index.
func indexRunes(h, p []rune) int {
	if len(p) == 0 || len(p) > len(h) {
		return -1
	}
	// Byte search is fine for finding a candidate, but the result must be
	// converted back to a rune index.
	hs, ps := string(h), string(p)
	b := strings.Index(hs, ps)
	if b < 0 {
		return -1
	}
	return len([]rune(hs[:b]))
}
