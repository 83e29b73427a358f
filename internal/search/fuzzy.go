package search

import (
	"strings"
	"unicode"
)

// levenshtein returns the edit distance between a and b, computed over runes
// with two rolling rows.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(b); j++ {
		curr[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(a)]
}

// fuzziness is the number of edits tolerated for a token of n runes, the same
// steps as the AUTO setting of Elasticsearch.
func fuzziness(n int) int {
	switch {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) [][]rune {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([][]rune, 0, len(fields))
	for _, f := range fields {
		out = append(out, []rune(f))
	}
	return out
}

// tokenScore is the similarity of the best matching field token for q, in
// [0, 1]. Exact matches score 1; fuzzy matches lose weight per edit.
func tokenScore(q []rune, field [][]rune, fuzzy bool) float64 {
	best := 0.0
	for _, t := range field {
		if string(t) == string(q) {
			return 1
		}
		if !fuzzy {
			continue
		}
		d := levenshtein(q, t)
		if d > fuzziness(len(q)) {
			continue
		}
		if s := 1 - float64(d)/float64(max(len(q), len(t))); s > best {
			best = s
		}
	}
	return best
}

// textScore scores a document for m the way a best_fields multi_match does:
// each field sums its per-token scores times its boost and the best field wins.
func textScore(m *TextMatch, text func(field string) string) float64 {
	query := tokenize(m.Text)
	best := 0.0
	for _, fb := range m.Fields {
		tokens := tokenize(text(fb.Field))
		sum := 0.0
		for _, q := range query {
			sum += tokenScore(q, tokens, m.Fuzzy)
		}
		boost := fb.Boost
		if boost == 0 {
			boost = 1
		}
		if s := sum * boost; s > best {
			best = s
		}
	}
	return best
}
