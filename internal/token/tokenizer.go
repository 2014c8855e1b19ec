// Package token implements the tokenization shared by indexing and
// querying. Both sides must use the exact same pipeline so a query term
// matches an index term iff they stem to the same form.
package token

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

// wordPattern keeps hyphenated compounds as single tokens.
var wordPattern = regexp.MustCompile(`[a-z0-9]+(?:-[a-z0-9]+)*`)

// stopwords is a fixed set of common English words dropped before stemming.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "he": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "they": true, "this": true, "to": true,
	"was": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "will": true, "with": true,
}

// Tokenize lowercases, extracts word runs, removes stopwords and applies
// Snowball English stemming. It is a pure function of its input.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if stopwords[word] {
			continue
		}
		tokens = append(tokens, Stem(word))
	}

	return tokens
}

// Stem reduces a single lowercase word to its Snowball stem.
func Stem(word string) string {
	return english.Stem(word, false)
}
