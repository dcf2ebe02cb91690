package search

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/Aman-CERP/hybridrag3/internal/store"
)

// Retriever implements the hybrid vector + BM25 retrieval algorithm of
// spec §4.7 against a Store.
type Retriever struct {
	store     *store.Store
	blockSize int
}

// New constructs a Retriever with the default block size.
func New(st *store.Store) *Retriever {
	return &Retriever{store: st, blockSize: DefaultBlockSize}
}

// NewWithBlockSize constructs a Retriever that scans the vector matrix in
// blocks of the given size (spec §4.7 names 1024 as the configurable
// example).
func NewWithBlockSize(st *store.Store, blockSize int) *Retriever {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Retriever{store: st, blockSize: blockSize}
}

// Search returns the top-K chunks for a query, per the contract
// `search(query_vector, k, min_score, mode) -> [Hit]`. An empty result on
// zero matches is not an error.
func (r *Retriever) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]Hit, error) {
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("top_k must be positive")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	var (
		bm25Results []store.BM25Result
		vecResults  []store.VectorResult
		err         error
	)

	if mode != ModeVectorOnly {
		bm25Limit := opts.RerankerTopN
		if bm25Limit <= 0 {
			bm25Limit = opts.TopK
		}
		bm25Results, err = r.searchBM25(ctx, opts.Query, bm25Limit)
		if err != nil {
			return nil, fmt.Errorf("bm25 search: %w", err)
		}
	}

	if mode != ModeBM25Only {
		vecResults, err = r.searchVector(ctx, queryVector, opts.TopK)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
	}

	var candidates []fusedCandidate
	switch mode {
	case ModeVectorOnly:
		for i, v := range vecResults {
			candidates = append(candidates, fusedCandidate{chunkID: v.ChunkID, rrfScore: float64(v.Score), vecRank: i + 1})
		}
	case ModeBM25Only:
		for i, b := range bm25Results {
			candidates = append(candidates, fusedCandidate{chunkID: b.ChunkID, rrfScore: b.Score, bm25Rank: i + 1})
		}
	default:
		candidates = fuseRRF(bm25Results, vecResults, opts.RRFK, func(chunkID string) int {
			return r.insertionRank(ctx, chunkID)
		})
	}

	if mode == ModeHybrid {
		for i := range candidates {
			candidates[i].rrfScore = normalizeRRFScore(candidates[i].rrfScore)
		}
	} else {
		sortCandidatesByScoreThenInsertion(candidates, func(chunkID string) int {
			return r.insertionRank(ctx, chunkID)
		})
	}

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.rrfScore >= opts.MinScore {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > opts.TopK {
		filtered = filtered[:opts.TopK]
	}

	hits, err := r.toHits(ctx, filtered)
	if err != nil {
		return nil, err
	}

	if opts.Reranker != nil && len(hits) > 0 {
		hits, err = r.rerank(ctx, opts.Query, hits, opts.Reranker, opts.RerankerTopN)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	}

	return hits, nil
}

func sortCandidatesByScoreThenInsertion(candidates []fusedCandidate, insertionRank func(string) int) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0; j-- {
			a, b := candidates[j-1], candidates[j]
			swap := a.rrfScore < b.rrfScore || (a.rrfScore == b.rrfScore && insertionRank(a.chunkID) > insertionRank(b.chunkID))
			if !swap {
				break
			}
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
		}
	}
}

// insertionRank returns the chunk's vector matrix row, the invariant's
// stand-in for insertion order (spec §3.2). Unknown chunks sort last.
func (r *Retriever) insertionRank(ctx context.Context, chunkID string) int {
	row, ok, err := r.store.VectorRowForChunk(ctx, chunkID)
	if err != nil || !ok {
		return int(^uint(0) >> 1) // max int: unresolvable rank sorts last
	}
	return row
}

func (r *Retriever) searchBM25(ctx context.Context, query string, limit int) ([]store.BM25Result, error) {
	if query == "" {
		return nil, nil
	}
	return r.store.FTSSearch(ctx, query, limit)
}

// searchVector scans the vector matrix in bounded blocks, maintaining a
// partial top-K min-heap so peak memory stays proportional to the block
// size rather than the full matrix (spec §4.7).
func (r *Retriever) searchVector(ctx context.Context, query []float32, topK int) ([]store.VectorResult, error) {
	vectors := r.store.Vectors()
	total := vectors.RowCount()
	if total == 0 {
		return nil, nil
	}

	h := &vectorHeap{}
	heap.Init(h)

	for start := 0; start < total; start += r.blockSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		block, err := vectors.Block(start, r.blockSize)
		if err != nil {
			return nil, err
		}
		for i, row := range block {
			rowIdx := start + i
			if vectors.IsDeleted(rowIdx) {
				continue
			}
			sim := cosineSimilarity(query, row)
			if h.Len() < topK {
				heap.Push(h, vectorHeapItem{row: rowIdx, score: sim})
				continue
			}
			if sim > (*h)[0].score {
				heap.Pop(h)
				heap.Push(h, vectorHeapItem{row: rowIdx, score: sim})
			}
		}
	}

	items := make([]vectorHeapItem, h.Len())
	for i := range items {
		items[i] = heap.Pop(h).(vectorHeapItem)
	}
	// items is now ascending by score (min-heap pop order); reverse to
	// descending for ranked output.
	results := make([]store.VectorResult, len(items))
	for i, item := range items {
		chunkID, ok, err := r.store.ChunkIDForVectorRow(ctx, item.row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		results[len(items)-1-i] = store.VectorResult{ChunkID: chunkID, Score: item.score}
	}
	return results, nil
}

func (r *Retriever) toHits(ctx context.Context, candidates []fusedCandidate) ([]Hit, error) {
	if len(candidates) == 0 {
		return []Hit{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.chunkID
	}
	records, err := r.store.FetchChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	byID := make(map[string]*store.ChunkRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := byID[c.chunkID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Chunk:         rec,
			Score:         c.rrfScore,
			BM25Rank:      c.bm25Rank,
			VecRank:       c.vecRank,
			InsertionRank: r.insertionRank(ctx, c.chunkID),
		})
	}
	return hits, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, hits []Hit, reranker Reranker, topN int) ([]Hit, error) {
	if topN <= 0 || topN > len(hits) {
		topN = len(hits)
	}
	window := hits[:topN]
	docs := make([]string, len(window))
	for i, h := range window {
		docs[i] = h.Chunk.Text
	}

	reranked, err := reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		return nil, err
	}

	out := make([]Hit, 0, len(reranked)+len(hits)-topN)
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= len(window) {
			continue
		}
		hit := window[rr.Index]
		hit.Score = rr.Score
		out = append(out, hit)
	}
	out = append(out, hits[topN:]...)
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// vectorHeapItem is one candidate in the bounded top-K min-heap: the
// lowest-scoring item sits at the root so it can be evicted in O(log K)
// when a better candidate arrives.
type vectorHeapItem struct {
	row   int
	score float64
}

type vectorHeap []vectorHeapItem

func (h vectorHeap) Len() int            { return len(h) }
func (h vectorHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h vectorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *vectorHeap) Push(x any)         { *h = append(*h, x.(vectorHeapItem)) }
func (h *vectorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
