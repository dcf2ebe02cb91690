// Package search implements the hybrid retriever: vector search over the
// mmap matrix, BM25 keyword search over the FTS5 index, and Reciprocal
// Rank Fusion of the two, with deterministic insertion-rank tie-breaking.
package search

import "github.com/Aman-CERP/hybridrag3/internal/store"

// Mode selects which candidate sources a Search call draws from.
type Mode string

const (
	// ModeHybrid runs both vector and BM25 search and fuses the results
	// with RRF. The default.
	ModeHybrid Mode = "hybrid"

	// ModeVectorOnly skips the keyword search entirely.
	ModeVectorOnly Mode = "vector_only"

	// ModeBM25Only skips the vector search entirely.
	ModeBM25Only Mode = "bm25_only"
)

// SearchOptions configures one retrieval call, mirroring the config's
// `retrieval` block (spec §3.5).
type SearchOptions struct {
	// Query is the raw text used for the BM25 keyword leg of the search
	// (tokenized and OR-joined by the store's FTS query). Ignored in
	// ModeVectorOnly.
	Query string

	// TopK is the maximum number of hits to return.
	TopK int

	// MinScore drops any hit whose normalized score falls below this
	// threshold.
	MinScore float64

	// Mode selects hybrid, vector-only, or BM25-only search.
	Mode Mode

	// RRFK is the Reciprocal Rank Fusion smoothing constant (default 60).
	RRFK int

	// RerankerTopN bounds how many BM25 candidates are retrieved before
	// fusion, and how many fused candidates are handed to an optional
	// reranker.
	RerankerTopN int

	// Reranker, if non-nil, re-scores the fused top-RerankerTopN
	// candidates. Disabled by default per spec §9's documented empirical
	// regression on refusal/injection-resistance/ambiguity queries —
	// callers opt in explicitly by providing one.
	Reranker Reranker
}

// Hit is a single retrieval result.
type Hit struct {
	Chunk *store.ChunkRecord

	// Score is the normalized score used for the MinScore cutoff:
	// RRF-fusion score scaled and clipped to [0,1] in hybrid mode, or the
	// source's native score in single-source modes.
	Score float64

	// BM25Rank and VecRank are 1-indexed positions in their respective
	// ranked lists, 0 if the chunk did not appear in that list.
	BM25Rank int
	VecRank  int

	// InsertionRank is the chunk's vector matrix row, used only to
	// deterministically break score ties (ascending).
	InsertionRank int
}

// DefaultBlockSize is the number of vector rows scanned per block during
// the matrix walk (spec §4.7).
const DefaultBlockSize = 1024
