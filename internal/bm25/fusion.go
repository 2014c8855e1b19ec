package bm25

import "sort"

// RRFConstant is the k from the reciprocal rank fusion literature.
const RRFConstant = 60

// Fuse combines rankings of chunk IDs by reciprocal-rank sum:
//
//	rrf(c) = Σ_i 1/(k + rank_i(c))
//
// with 1-based ranks; a ranking that does not contain a chunk contributes
// nothing. The output covers the union of all rankings, ordered by fused
// score descending with ties broken by chunk ID ascending so the result is
// deterministic.
func Fuse(rankings ...[]uint) []uint {
	scores := make(map[uint]float64)
	for _, ranking := range rankings {
		for rank, id := range ranking {
			scores[id] += 1.0 / float64(RRFConstant+rank+1)
		}
	}

	fused := make([]uint, 0, len(scores))
	for id := range scores {
		fused = append(fused, id)
	}
	sort.Slice(fused, func(i, j int) bool {
		if scores[fused[i]] != scores[fused[j]] {
			return scores[fused[i]] > scores[fused[j]]
		}
		return fused[i] < fused[j]
	})

	return fused
}
