package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag3/internal/chunk"
	"github.com/Aman-CERP/hybridrag3/internal/embed"
	"github.com/Aman-CERP/hybridrag3/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, *embed.StaticEmbedder) {
	t.Helper()
	embedder := embed.NewStaticEmbedder()
	st, err := store.Open(t.TempDir(), embedder.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, embedder
}

// seedChunk embeds and inserts one chunk of text at the given source/index,
// returning its vector so tests can issue a query that should match it.
func seedChunk(t *testing.T, ctx context.Context, st *store.Store, embedder *embed.StaticEmbedder, runID, source string, index int, text string) []float32 {
	t.Helper()
	c := &chunk.Chunk{
		ID:     source + "#" + string(rune('a'+index)),
		Source: source,
		Index:  index,
		Start:  0,
		End:    len(text),
		Text:   text,
	}
	vec, err := embedder.Embed(ctx, text)
	require.NoError(t, err)
	require.NoError(t, st.InsertBatch(ctx, runID, []*chunk.Chunk{c}, [][]float32{vec}))
	return vec
}

func TestRetriever_Search_HybridModeFusesBothSources(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	vec := seedChunk(t, ctx, st, embedder, "run1", "a.md", 0, "reciprocal rank fusion combines keyword and vector search results")
	seedChunk(t, ctx, st, embedder, "run1", "b.md", 0, "an entirely unrelated document about gardening and soil composition")

	r := New(st)
	hits, err := r.Search(ctx, vec, SearchOptions{
		Query: "reciprocal rank fusion",
		TopK:  10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a.md#a", hits[0].Chunk.ID)
	assert.GreaterOrEqual(t, hits[0].Score, 0.0)
	assert.LessOrEqual(t, hits[0].Score, 1.0)
}

func TestRetriever_Search_VectorOnlyModeIgnoresQuery(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	vec := seedChunk(t, ctx, st, embedder, "run1", "a.md", 0, "vectors describe semantic similarity between chunks of text")

	r := New(st)
	hits, err := r.Search(ctx, vec, SearchOptions{
		TopK: 5,
		Mode: ModeVectorOnly,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].BM25Rank)
	assert.Equal(t, 1, hits[0].VecRank)
}

func TestRetriever_Search_BM25OnlyModeIgnoresQueryVector(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	seedChunk(t, ctx, st, embedder, "run1", "a.md", 0, "keyword search relies on exact term overlap between query and document")

	r := New(st)
	zeroVec := make([]float32, embedder.Dimensions())
	hits, err := r.Search(ctx, zeroVec, SearchOptions{
		Query: "keyword search term overlap",
		TopK:  5,
		Mode:  ModeBM25Only,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].BM25Rank)
	assert.Equal(t, 0, hits[0].VecRank)
}

func TestRetriever_Search_EmptyStoreReturnsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	r := New(st)
	hits, err := r.Search(ctx, make([]float32, embedder.Dimensions()), SearchOptions{
		Query: "anything",
		TopK:  10,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetriever_Search_MinScoreFiltersLowRankedHits(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	vec := seedChunk(t, ctx, st, embedder, "run1", "a.md", 0, "the target passage that should match closely")
	for i := 1; i <= 5; i++ {
		seedChunk(t, ctx, st, embedder, "run1", "other.md", i, "completely unrelated filler content number")
	}

	r := New(st)
	hits, err := r.Search(ctx, vec, SearchOptions{
		Query:    "target passage match closely",
		TopK:     10,
		MinScore: 0.999,
	})
	require.NoError(t, err)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.999)
	}
}

func TestRetriever_Search_TopKTruncatesResults(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	var vec []float32
	for i := 0; i < 5; i++ {
		vec = seedChunk(t, ctx, st, embedder, "run1", "a.md", i, "shared overlapping content across several chunks")
	}

	r := New(st)
	hits, err := r.Search(ctx, vec, SearchOptions{
		Query: "shared overlapping content",
		TopK:  2,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), 2)
}

func TestRetriever_Search_TiesBreakByInsertionRankAscending(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	// Two chunks with identical text fuse to identical RRF scores; the
	// earlier vector row (lower insertion rank) must sort first.
	seedChunk(t, ctx, st, embedder, "run1", "a.md", 0, "duplicate passage used to force a scoring tie")
	vec := seedChunk(t, ctx, st, embedder, "run1", "b.md", 0, "duplicate passage used to force a scoring tie")

	r := New(st)
	hits, err := r.Search(ctx, vec, SearchOptions{
		Query: "duplicate passage force scoring tie",
		TopK:  10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.LessOrEqual(t, hits[0].InsertionRank, hits[1].InsertionRank)
}

func TestRetriever_Search_RerankerReordersTopWindow(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	vec := seedChunk(t, ctx, st, embedder, "run1", "a.md", 0, "a passage about the query topic")
	seedChunk(t, ctx, st, embedder, "run1", "b.md", 0, "another passage about the query topic too")

	r := New(st)
	hits, err := r.Search(ctx, vec, SearchOptions{
		Query:        "query topic",
		TopK:         10,
		RerankerTopN: 2,
		Reranker:     &NoOpReranker{},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestRetriever_Search_InvalidTopKReturnsError(t *testing.T) {
	ctx := context.Background()
	st, embedder := newTestStore(t)

	r := New(st)
	_, err := r.Search(ctx, make([]float32, embedder.Dimensions()), SearchOptions{TopK: 0})
	assert.Error(t, err)
}
