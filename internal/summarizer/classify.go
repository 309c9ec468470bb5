package summarizer

import (
	"strings"
	"unicode"
)

// Kind is the answer format chosen for a query.
type Kind string

const (
	KindRecommendation  Kind = "recommendation"
	KindHowTo           Kind = "how_to"
	KindComparison      Kind = "comparison"
	KindLocation        Kind = "location"
	KindFactual         Kind = "factual"
	KindNews            Kind = "news"
	KindTroubleshooting Kind = "troubleshooting"
	KindGeneral         Kind = "general"
)

type rule struct {
	kind     Kind
	contains []string
	prefixes []string
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{kind: KindRecommendation, contains: []string{"best", "top", "recommend", "should i buy", "which is better"}},
	{kind: KindHowTo, contains: []string{"how to", "how do", "steps to", "guide", "tutorial"}},
	{kind: KindComparison, contains: []string{"vs", "versus", "compare", "difference", "better than"}},
	{kind: KindLocation, contains: []string{"near me", " in ", "local", "restaurants in", "places in"}},
	{kind: KindFactual, prefixes: []string{"what is", "what are", "when did", "where is", "who is", "why"}},
	{kind: KindNews, contains: []string{"latest", "recent", "news", "today", "current", "updates"}},
	{kind: KindTroubleshooting, contains: []string{"fix", "solve", "problem", "error", "not working", "help"}},
}

// Classify picks the answer format for query. Keywords match whole words,
// so "laptop" is not a "top" recommendation.
func Classify(query string) Kind {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	padded := " " + strings.Join(words, " ") + " "

	for _, r := range rules {
		for _, term := range r.contains {
			if strings.Contains(padded, " "+strings.TrimSpace(term)+" ") {
				return r.kind
			}
		}
		for _, p := range r.prefixes {
			if strings.HasPrefix(padded, " "+p+" ") {
				return r.kind
			}
		}
	}
	return KindGeneral
}
