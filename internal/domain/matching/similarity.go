package matching

import (
	"strings"
	"unicode"
)

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// jaccard is |A∩B| / |A∪B| over upper-cased alphanumeric tokens.
func jaccard(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// textSimilarity scores how strongly haystack refers to needle: 1 when the
// needle appears verbatim, else token overlap.
func textSimilarity(haystack, needle string) float64 {
	n := strings.ToUpper(strings.TrimSpace(needle))
	if n == "" {
		return 0
	}
	if strings.Contains(strings.ToUpper(haystack), n) {
		return 1
	}
	return jaccard(haystack, needle)
}
