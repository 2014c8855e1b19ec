package bm25

import "strings"

// Scorer computes a simplified document-level BM25 without a global IDF.
// Corpus-wide document frequencies would need a serialization point across
// concurrent ingestion, so the design substitutes LLM-extracted keywords as
// the notion of term importance: each query term matching a keyword
// multiplies the score by Boost.
type Scorer struct {
	K1    float64
	B     float64
	AvgDL float64
	Boost float64
}

func NewScorer() *Scorer {
	return &Scorer{
		K1:    1.2,
		B:     0.75,
		AvgDL: 1000,
		Boost: 1.5,
	}
}

// Score computes the BM25 score of one document for the stemmed query
// terms. tokenCount is the document length used for normalization and
// keywords are the document's LLM-extracted terms, matched
// case-insensitively as substrings.
func (s *Scorer) Score(queryTerms []string, termFrequencies map[string]int, tokenCount int, keywords []string) float64 {
	if len(queryTerms) == 0 || len(termFrequencies) == 0 {
		return 0
	}

	score := 0.0
	for _, term := range queryTerms {
		tf := float64(termFrequencies[term])
		if tf == 0 {
			continue
		}

		numerator := tf * (s.K1 + 1)
		denominator := tf + s.K1*(1-s.B+s.B*(float64(tokenCount)/s.AvgDL))
		score += numerator / denominator
	}

	if score > 0 && len(keywords) > 0 {
		boost := 1.0
		for _, term := range queryTerms {
			if matchesKeyword(term, keywords) {
				boost *= s.Boost
			}
		}
		score *= boost
	}

	return score
}

func matchesKeyword(term string, keywords []string) bool {
	term = strings.ToLower(term)
	for _, keyword := range keywords {
		if strings.Contains(strings.ToLower(keyword), term) {
			return true
		}
	}
	return false
}
