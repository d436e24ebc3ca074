package cache

import (
	"regexp"
	"sort"
	"strings"
)

// StopWords are tokens removed during query normalization. Articles,
// conjunctions, common prepositions, question words and demonstratives
// carry no search intent and only fragment the cache keyspace.
// Tunable independently of the normalization control flow.
var StopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"and": {}, "or": {}, "but": {}, "nor": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {},
	"of": {}, "with": {}, "by": {}, "from": {}, "about": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"whom": {}, "why": {}, "how": {},
	"this": {}, "that": {}, "these": {}, "those": {},
}

var (
	nonWordChars = regexp.MustCompile(`[^\w\s]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// NormalizeQuery canonicalizes a free-text query into the stable form used
// for cache grouping: lowercase, punctuation stripped, stop words and
// single-character tokens dropped, remaining tokens sorted and joined with
// single spaces.
//
// The sort plus stop-word removal deliberately collapses surface variants of
// the same search intent ("best pizza", "pizza best", "what is the best
// pizza?") onto one cache bucket. That trades key precision for hit rate and
// is the whole point of the scheme; do not tighten it.
//
// A query made entirely of stop words normalizes to the empty string. That
// is a valid, stable result, not an error.
func NormalizeQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = nonWordChars.ReplaceAllString(q, " ")
	q = whitespace.ReplaceAllString(q, " ")

	tokens := strings.Split(strings.TrimSpace(q), " ")
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) <= 1 {
			continue
		}
		if _, stop := StopWords[tok]; stop {
			continue
		}
		kept = append(kept, tok)
	}

	sort.Strings(kept)
	return strings.Join(kept, " ")
}
