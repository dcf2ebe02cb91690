package search

import (
	"sort"

	"github.com/Aman-CERP/hybridrag3/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60, the
// value used by Azure AI Search, OpenSearch, and others).
const DefaultRRFConstant = 60

// rrfScaleFactor converts a raw RRF score into the same [0,1] range the
// single-source MinScore cutoff expects. A document ranked first in every
// input list scores at most 1/(k+1) per list; scaling by this documented
// constant (spec §4.7) brings a typical top hit close to 1.0 without
// letting any sum of per-list terms exceed it after clipping.
const rrfScaleFactor = 30

// fusedCandidate accumulates RRF contributions for one chunk across the
// BM25 and vector ranked lists.
type fusedCandidate struct {
	chunkID  string
	rrfScore float64
	bm25Rank int
	vecRank  int
}

// fuseRRF combines BM25 and vector results with Reciprocal Rank Fusion:
// score(c) = Σ 1/(k + rank_i(c)) over every list c appears in. Unlike a
// weighted variant, a candidate missing from one list simply has no term
// for it — no penalty contribution is invented for the missing source.
// Results are sorted by score descending; insertionRank resolves ties.
func fuseRRF(bm25 []store.BM25Result, vec []store.VectorResult, k int, insertionRank func(chunkID string) int) []fusedCandidate {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	candidates := make(map[string]*fusedCandidate, len(bm25)+len(vec))
	get := func(id string) *fusedCandidate {
		if c, ok := candidates[id]; ok {
			return c
		}
		c := &fusedCandidate{chunkID: id}
		candidates[id] = c
		return c
	}

	for rank, r := range bm25 {
		c := get(r.ChunkID)
		c.bm25Rank = rank + 1
		c.rrfScore += 1.0 / float64(k+rank+1)
	}
	for rank, r := range vec {
		c := get(r.ChunkID)
		c.vecRank = rank + 1
		c.rrfScore += 1.0 / float64(k+rank+1)
	}

	out := make([]fusedCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].rrfScore != out[j].rrfScore {
			return out[i].rrfScore > out[j].rrfScore
		}
		return insertionRank(out[i].chunkID) < insertionRank(out[j].chunkID)
	})

	return out
}

// normalizeRRFScore scales a raw RRF score into [0,1] so it can be
// compared against the shared MinScore cutoff (spec §4.7).
func normalizeRRFScore(raw float64) float64 {
	scaled := raw * rrfScaleFactor
	if scaled > 1 {
		return 1
	}
	if scaled < 0 {
		return 0
	}
	return scaled
}
