package lexical

import (
	"strings"
	"unicode"
)

// stopwords is a small, common-English list; dropping them trades a
// little recall for a leaner postings list and fewer near-useless
// high-frequency terms in every query's candidate set.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "if": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"she": {}, "so": {}, "than": {}, "that": {}, "the": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "will": {}, "with": {}, "you": {},
	"your": {}, "i": {}, "do": {}, "does": {}, "did": {}, "not": {}, "no": {},
}

// tokenize lowercases, strips punctuation and drops stopwords, matching
// the tokenizer the BM25 index scores against.
func tokenize(text string) []string {
	var terms []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		term := cur.String()
		cur.Reset()
		if _, stop := stopwords[term]; stop {
			return
		}
		terms = append(terms, term)
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()
	return terms
}
