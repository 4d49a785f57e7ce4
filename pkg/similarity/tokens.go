package similarity

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "be": true, "it": true,
	"its": true, "this": true, "that": true, "your": true, "you": true,
	"we": true, "our": true, "can": true, "not": true, "no": true,
	"new": true, "just": true, "about": true, "all": true, "more": true,
	"also": true, "very": true, "using": true, "based": true, "simple": true,
	"written": true, "library": true, "tool": true, "project": true,
}

// significantTokens lowercases text and keeps words of two or more
// letters or digits that are not stopwords.
func significantTokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, w := range words {
		if len(w) >= 2 && !stopwords[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// Jaccard returns |a∩b| / |a∪b| over the distinct, case-folded elements.
// Two empty sets have similarity 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[strings.ToLower(t)] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
