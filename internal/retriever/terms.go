package retriever

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxTerms is the number of search terms kept from a query.
const maxTerms = 3

// nonWord matches everything that is not a letter, digit, underscore or
// whitespace. Unicode classes keep accented Spanish letters intact.
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// stopwords are common Spanish function words dropped from queries.
var stopwords = map[string]struct{}{
	"hay": {}, "que": {}, "de": {}, "la": {}, "el": {}, "los": {},
	"las": {}, "un": {}, "una": {}, "unos": {}, "unas": {}, "para": {},
	"por": {}, "con": {}, "sin": {}, "sobre": {}, "bajo": {},
	"entre": {}, "hacia": {}, "desde": {},
}

// cleanQueryTerms normalizes the query and extracts up to maxTerms search
// terms: lowercase, punctuation stripped, tokens shorter than 3 runes and
// stopwords dropped. If nothing survives and the normalized query has at
// least 4 runes, its first 20 runes become a single fallback term.
func cleanQueryTerms(query string) []string {
	clean := nonWord.ReplaceAllString(strings.ToLower(query), "")

	var terms []string
	for _, w := range strings.Fields(clean) {
		if utf8.RuneCountInString(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		terms = append(terms, w)
		if len(terms) == maxTerms {
			break
		}
	}

	if len(terms) == 0 {
		if utf8.RuneCountInString(clean) >= 4 {
			return []string{firstRunes(clean, 20)}
		}
		return nil
	}
	return terms
}

// firstRunes returns the first n runes of s.
func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
