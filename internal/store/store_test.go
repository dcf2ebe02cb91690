package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag3/internal/chunk"
)

func tempStoreDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "store-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(tempStoreDir(t), 3)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleChunks(source string) []*chunk.Chunk {
	return []*chunk.Chunk{
		{ID: source + "-0", Source: source, Index: 0, Start: 0, End: 20, Text: "getUserById fetches a user record", Heading: "Users"},
		{ID: source + "-1", Source: source, Index: 1, Start: 20, End: 40, Text: "deleteUserAccount removes a user", Heading: "Users"},
	}
}

func sampleVectors(n int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = []float32{float32(i), float32(i + 1), float32(i + 2)}
	}
	return vectors
}

func TestOpen_CreatesSchemaOnFreshDirectory(t *testing.T) {
	s := openTestStore(t)

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestInsertBatch_RejectsMismatchedLengths(t *testing.T) {
	s := openTestStore(t)

	err := s.InsertBatch(context.Background(), "run-1", sampleChunks("a.go"), sampleVectors(1))
	assert.Error(t, err)
}

func TestInsertBatch_ThenFetchChunks_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chunks := sampleChunks("a.go")
	require.NoError(t, s.InsertBatch(ctx, "run-1", chunks, sampleVectors(len(chunks))))

	fetched, err := s.FetchChunks(ctx, []string{"a.go-0", "a.go-1"})
	require.NoError(t, err)
	require.Len(t, fetched, 2)

	byID := map[string]*ChunkRecord{}
	for _, c := range fetched {
		byID[c.ID] = c
	}
	assert.Equal(t, "getUserById fetches a user record", byID["a.go-0"].Text)
	assert.Equal(t, "Users", byID["a.go-1"].Heading)
}

func TestInsertBatch_AssignsVectorRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chunks := sampleChunks("a.go")
	require.NoError(t, s.InsertBatch(ctx, "run-1", chunks, sampleVectors(len(chunks))))

	row, ok, err := s.VectorRowForChunk(ctx, "a.go-0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, row)

	row1, ok, err := s.VectorRowForChunk(ctx, "a.go-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, row1)

	id, ok, err := s.ChunkIDForVectorRow(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a.go-0", id)
}

func TestInsertBatch_ReinsertingSameChunkIDs_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chunks := sampleChunks("a.go")
	require.NoError(t, s.InsertBatch(ctx, "run-1", chunks, sampleVectors(len(chunks))))
	require.NoError(t, s.InsertBatch(ctx, "run-2", chunks, sampleVectors(len(chunks))))

	row0, ok, err := s.VectorRowForChunk(ctx, "a.go-0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, row0, "re-indexing unchanged content must not append a second vector row")

	row1, ok, err := s.VectorRowForChunk(ctx, "a.go-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, row1)

	assert.Equal(t, 2, s.vectors.RowCount(), "duplicate insert must not grow the vector matrix")

	fetched, err := s.FetchChunks(ctx, []string{"a.go-0"})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, "run-1", fetched[0].RunID, "the ignored duplicate insert must not overwrite the original row")
}

func TestFTSSearch_MatchesOnAnyTokenCamelCaseSplit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chunks := sampleChunks("a.go")
	require.NoError(t, s.InsertBatch(ctx, "run-1", chunks, sampleVectors(len(chunks))))

	results, err := s.FTSSearch(ctx, "user delete", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.ChunkID] = true
	}
	// both chunks mention "user"; only one mentions "delete" - OR semantics
	// means both still surface, with the double match ranked ahead.
	assert.True(t, ids["a.go-0"])
	assert.True(t, ids["a.go-1"])
}

func TestFTSSearch_EmptyQuery_ReturnsNothing(t *testing.T) {
	s := openTestStore(t)
	results, err := s.FTSSearch(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteBySource_RemovesChunksFTSAndVectorMapping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chunks := sampleChunks("a.go")
	require.NoError(t, s.InsertBatch(ctx, "run-1", chunks, sampleVectors(len(chunks))))

	require.NoError(t, s.DeleteBySource(ctx, "a.go"))

	fetched, err := s.FetchChunks(ctx, []string{"a.go-0", "a.go-1"})
	require.NoError(t, err)
	assert.Empty(t, fetched)

	results, err := s.FTSSearch(ctx, "user", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, ok, err := s.VectorRowForChunk(ctx, "a.go-0")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, s.vectors.IsDeleted(0))
	assert.True(t, s.vectors.IsDeleted(1))
}

func TestDeleteBySource_LeavesOtherSourcesIntact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertBatch(ctx, "run-1", sampleChunks("a.go"), sampleVectors(2)))
	require.NoError(t, s.InsertBatch(ctx, "run-1", sampleChunks("b.go"), sampleVectors(2)))

	require.NoError(t, s.DeleteBySource(ctx, "a.go"))

	fetched, err := s.FetchChunks(ctx, []string{"b.go-0", "b.go-1"})
	require.NoError(t, err)
	assert.Len(t, fetched, 2)
}

func TestFileSignature_PutAndGet_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sig := FileSignature{
		Path:        "a.go",
		Size:        123,
		ModTime:     time.Now().Truncate(time.Second),
		ContentHash: "deadbeef",
		LastRunID:   "run-1",
	}
	require.NoError(t, s.PutFileSignature(ctx, sig))

	got, ok, err := s.FileSignature(ctx, "a.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sig.ContentHash, got.ContentHash)
	assert.Equal(t, sig.Size, got.Size)
}

func TestFileSignature_Missing_ReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.FileSignature(context.Background(), "missing.go")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteFileSignature_RemovesEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFileSignature(ctx, FileSignature{Path: "a.go", ModTime: time.Now()}))
	require.NoError(t, s.DeleteFileSignature(ctx, "a.go"))

	_, ok, err := s.FileSignature(ctx, "a.go")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllFileSignatures_ReturnsEveryRecordedFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFileSignature(ctx, FileSignature{Path: "a.go", ModTime: time.Now()}))
	require.NoError(t, s.PutFileSignature(ctx, FileSignature{Path: "b.go", ModTime: time.Now()}))

	sigs, err := s.AllFileSignatures(ctx)
	require.NoError(t, err)
	assert.Len(t, sigs, 2)
}

func TestRunLifecycle_StartThenFinish(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := Run{ID: "run-1", StartedAt: time.Now(), EmbedderModel: "nomic-embed-text", EmbedderDims: 768}
	require.NoError(t, s.StartRun(ctx, run))

	latest, ok, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusInProgress, latest.Status)

	run.Status = RunStatusComplete
	run.FinishedAt = time.Now()
	run.FilesScanned = 5
	run.ChunksIndexed = 42
	require.NoError(t, s.FinishRun(ctx, run))

	latest, ok, err = s.LatestRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusComplete, latest.Status)
	assert.Equal(t, 42, latest.ChunksIndexed)
}

func TestLatestRun_NoRunsYet_ReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LatestRun(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpoint_DoesNotError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertBatch(context.Background(), "run-1", sampleChunks("a.go"), sampleVectors(2)))
	assert.NoError(t, s.Checkpoint(context.Background()))
}

func TestOpen_ReopenAfterClose_PreservesChunksAndVectors(t *testing.T) {
	dir := tempStoreDir(t)
	s, err := Open(dir, 3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.InsertBatch(ctx, "run-1", sampleChunks("a.go"), sampleVectors(2)))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, 3)
	require.NoError(t, err)
	defer reopened.Close()

	fetched, err := reopened.FetchChunks(ctx, []string{"a.go-0", "a.go-1"})
	require.NoError(t, err)
	assert.Len(t, fetched, 2)

	row, ok, err := reopened.VectorRowForChunk(ctx, "a.go-0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, row)
}
