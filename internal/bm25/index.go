// Package bm25 implements the lexical side of hybrid search: per-document
// term-frequency indexes, a simplified BM25 scorer and reciprocal rank
// fusion.
package bm25

import "github.com/emrgen/docsearch/internal/token"

// BuildIndex aggregates stemmed term frequencies across all chunk texts of
// a document. The result is the only lexical state ever persisted; it is
// sufficient input for full BM25 if a global IDF is added later.
func BuildIndex(chunkTexts []string) map[string]int {
	frequencies := make(map[string]int)
	for _, text := range chunkTexts {
		for _, term := range token.Tokenize(text) {
			frequencies[term]++
		}
	}

	return frequencies
}
