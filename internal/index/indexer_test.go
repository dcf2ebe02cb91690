package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	"github.com/Aman-CERP/hybridrag3/internal/embed"
	"github.com/Aman-CERP/hybridrag3/internal/store"
)

func newTestIndexer(t *testing.T) (*Indexer, *store.Store, string) {
	t.Helper()
	projectDir := t.TempDir()
	dataDir := t.TempDir()

	cfg := config.Default()
	cfg.Chunking.ChunkSize = 200
	cfg.Chunking.Overlap = 20

	embedder := embed.NewStaticEmbedder()
	st, err := store.Open(dataDir, embedder.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(st, embedder, cfg), st, projectDir
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestIndexer_Run_IndexesScannedFiles(t *testing.T) {
	ix, st, root := newTestIndexer(t)
	writeFile(t, root, "a.md", "# Title\n\nSome introductory paragraph describing the project in enough words to be meaningful.")
	writeFile(t, root, "b.md", "Another document entirely, with its own distinct sentences and content.")

	result, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesScanned)
	assert.Equal(t, 2, result.FilesIndexed)
	assert.Equal(t, 0, result.FilesSkipped)
	assert.Greater(t, result.ChunksIndexed, 0)

	run, ok, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.RunStatusComplete, run.Status)
	assert.Equal(t, result.RunID, run.ID)
}

func TestIndexer_Run_SkipsUnchangedFilesOnSecondRun(t *testing.T) {
	ix, _, root := newTestIndexer(t)
	writeFile(t, root, "a.md", "Unchanging content that will not be touched between runs at all.")

	_, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	second, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, 1, second.FilesScanned)
	assert.Equal(t, 0, second.FilesIndexed)
	assert.Equal(t, 1, second.FilesSkipped)
}

func TestIndexer_Run_ReindexesChangedFile(t *testing.T) {
	ix, _, root := newTestIndexer(t)
	writeFile(t, root, "a.md", "Original content that is going to change shortly after the first run.")

	_, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	writeFile(t, root, "a.md", "Completely different content, much longer than the original by quite a lot of words.")

	second, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, 1, second.FilesIndexed)
	assert.Equal(t, 0, second.FilesSkipped)
}

func TestIndexer_Run_RemovesChunksForDeletedFiles(t *testing.T) {
	ix, st, root := newTestIndexer(t)
	writeFile(t, root, "a.md", "This file will be deleted before the second indexing run happens.")
	writeFile(t, root, "b.md", "This file stays in place across both indexing runs without changes.")

	_, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.md")))

	second, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, 1, second.FilesScanned)
	assert.Equal(t, 1, second.FilesDeleted)

	_, ok, err := st.FileSignature(context.Background(), "a.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexer_Run_StrongSignaturesCatchSameSizeMtimeContentChange(t *testing.T) {
	ix, _, root := newTestIndexer(t)
	writeFile(t, root, "a.md", "abcdefghijklmnop content block of fixed size here.")

	_, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	// Same length, same mtime resolution, different content.
	writeFile(t, root, "a.md", "ponmlkjihgfedcba content block of fixed size here.")

	second, err := ix.Run(context.Background(), Options{RootDir: root, StrongSignatures: true})
	require.NoError(t, err)

	assert.Equal(t, 1, second.FilesIndexed)
}

func TestIndexer_Run_EmptyProjectProducesNoChunks(t *testing.T) {
	ix, _, root := newTestIndexer(t)

	result, err := ix.Run(context.Background(), Options{RootDir: root})
	require.NoError(t, err)

	assert.Equal(t, 0, result.FilesScanned)
	assert.Equal(t, 0, result.ChunksIndexed)
}

func TestIndexer_Run_ReportsProgressPerFile(t *testing.T) {
	ix, _, root := newTestIndexer(t)
	writeFile(t, root, "a.md", "first document content spanning a few words of text.")
	writeFile(t, root, "b.md", "second document content spanning a few words of text.")

	var calls int
	_, err := ix.Run(context.Background(), Options{
		RootDir: root,
		Progress: func(stage string, current, total int, file string) {
			calls++
			assert.Equal(t, "index", stage)
			assert.LessOrEqual(t, current, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
