package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempVectorDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "vectorindex-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestOpenVectorIndex_CreatesEmptyIndex(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 4)
	require.NoError(t, err)
	defer vi.Close()

	assert.Equal(t, 0, vi.RowCount())
	assert.Equal(t, 4, vi.Dims())
}

func TestVectorIndex_AppendBatch_AssignsSequentialRows(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	defer vi.Close()

	rows, err := vi.AppendBatch([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, rows)
	assert.Equal(t, 2, vi.RowCount())

	rows2, err := vi.AppendBatch([][]float32{{7, 8, 9}})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, rows2)
}

func TestVectorIndex_AppendBatch_RejectsWrongDimension(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	defer vi.Close()

	_, err = vi.AppendBatch([][]float32{{1, 2}})
	assert.Error(t, err)
}

func TestVectorIndex_Block_RoundTripsValuesWithinFloat16Precision(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	defer vi.Close()

	_, err = vi.AppendBatch([][]float32{{0.5, -0.25, 1.0}, {2.0, 0.0, -1.0}})
	require.NoError(t, err)

	block, err := vi.Block(0, 2)
	require.NoError(t, err)
	require.Len(t, block, 2)
	assert.InDeltaSlice(t, []float32{0.5, -0.25, 1.0}, block[0], 0.01)
	assert.InDeltaSlice(t, []float32{2.0, 0.0, -1.0}, block[1], 0.01)
}

func TestVectorIndex_Block_ClampsToRowCount(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 2)
	require.NoError(t, err)
	defer vi.Close()

	_, err = vi.AppendBatch([][]float32{{1, 1}, {2, 2}})
	require.NoError(t, err)

	block, err := vi.Block(1, 10)
	require.NoError(t, err)
	assert.Len(t, block, 1)
}

func TestVectorIndex_MarkDeleted_TombstonesRow(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 2)
	require.NoError(t, err)
	defer vi.Close()

	rows, err := vi.AppendBatch([][]float32{{1, 1}, {2, 2}})
	require.NoError(t, err)

	require.NoError(t, vi.MarkDeleted([]int{rows[0]}))
	assert.True(t, vi.IsDeleted(rows[0]))
	assert.False(t, vi.IsDeleted(rows[1]))
}

func TestVectorIndex_ReopenAfterClose_PreservesData(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)

	_, err = vi.AppendBatch([][]float32{{1, 2, 3}})
	require.NoError(t, err)
	require.NoError(t, vi.MarkDeleted([]int{0}))
	require.NoError(t, vi.Close())

	reopened, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.RowCount())
	assert.True(t, reopened.IsDeleted(0))

	block, err := reopened.Block(0, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 2, 3}, block[0], 0.01)
}

func TestOpenVectorIndex_DimensionMismatchWithExistingRows_Errors(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	_, err = vi.AppendBatch([][]float32{{1, 2, 3}})
	require.NoError(t, err)
	require.NoError(t, vi.CommitAppend())
	require.NoError(t, vi.Close())

	_, err = OpenVectorIndex(dir, 4)
	assert.Error(t, err)
}

func TestOpenVectorIndex_TruncatesUnregisteredTailBytes(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 2)
	require.NoError(t, err)
	_, err = vi.AppendBatch([][]float32{{1, 1}})
	require.NoError(t, err)
	require.NoError(t, vi.CommitAppend())
	require.NoError(t, vi.Close())

	// Simulate a crash mid-append: extra bytes appended to the data file
	// after the sidecar was last written, never registered as a row.
	dataPath := filepath.Join(dir, "vectors.bin")
	f, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()+4))
	require.NoError(t, f.Close())

	reopened, err := OpenVectorIndex(dir, 2)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.RowCount())
}

func TestOpenVectorIndex_MissingRowsIsFatal(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 2)
	require.NoError(t, err)
	_, err = vi.AppendBatch([][]float32{{1, 1}, {2, 2}})
	require.NoError(t, err)
	require.NoError(t, vi.CommitAppend())
	require.NoError(t, vi.Close())

	dataPath := filepath.Join(dir, "vectors.bin")
	f, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()-4))
	require.NoError(t, f.Close())

	_, err = OpenVectorIndex(dir, 2)
	assert.Error(t, err)
}

func TestVectorIndex_CommitAppend_PersistsRowCountAcrossReopen(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)

	_, err = vi.AppendBatch([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	require.NoError(t, vi.CommitAppend())
	require.NoError(t, vi.Close())

	reopened, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.RowCount())
}

func TestVectorIndex_AbortAppend_RevertsUncommittedRowsInProcess(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	defer vi.Close()

	_, err = vi.AppendBatch([][]float32{{1, 2, 3}})
	require.NoError(t, err)
	require.NoError(t, vi.CommitAppend())
	assert.Equal(t, 1, vi.RowCount())

	rows, err := vi.AppendBatch([][]float32{{4, 5, 6}, {7, 8, 9}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, rows)
	assert.Equal(t, 3, vi.RowCount())

	require.NoError(t, vi.AbortAppend())
	assert.Equal(t, 1, vi.RowCount())

	// The aborted rows' space is reused rather than leaked: the next
	// append starts back at row 1.
	rows2, err := vi.AppendBatch([][]float32{{10, 11, 12}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rows2)
}

func TestVectorIndex_AbortAppend_WithoutPriorAppendIsNoop(t *testing.T) {
	dir := tempVectorDir(t)
	vi, err := OpenVectorIndex(dir, 3)
	require.NoError(t, err)
	defer vi.Close()

	require.NoError(t, vi.AbortAppend())
	assert.Equal(t, 0, vi.RowCount())
}
