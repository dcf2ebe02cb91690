package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/mmap-go"
	"github.com/x448/float16"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

const bytesPerComponent = 2 // float16

// vectorMeta is the atomic sidecar describing the mmap matrix: how many
// rows it holds and which of those rows are tombstoned. It is the source
// of truth for row count - the data file is only ever appended to or
// truncated back down to what the sidecar last confirmed.
type vectorMeta struct {
	Dims       int   `json:"dims"`
	RowCount   int   `json:"row_count"`
	Tombstones []int `json:"tombstones"`
}

// VectorIndex is a memory-mapped, append-only, row-major matrix of
// float16 embedding vectors. Rows are never moved: deletion tombstones a
// row rather than compacting the file, so row indices stay stable for the
// lifetime of the index.
type VectorIndex struct {
	mu sync.RWMutex

	dataPath string
	metaPath string

	dims       int
	f          *os.File
	mm         mmap.MMap
	rowCount   int
	tombstones map[int]struct{}
}

// OpenVectorIndex opens (or creates) the vector matrix for dir. dims must
// match the dimensionality of an existing index; a mismatch means the
// embedder changed and the index needs to be rebuilt, not silently
// reinterpreted.
func OpenVectorIndex(dir string, dims int) (*VectorIndex, error) {
	dataPath := filepath.Join(dir, "vectors.bin")
	metaPath := filepath.Join(dir, "vectors_meta.json")

	meta, err := readVectorMeta(metaPath)
	if err != nil {
		return nil, err
	}
	if meta.RowCount > 0 && meta.Dims != dims {
		return nil, hyerr.StoreCorruption(
			fmt.Sprintf("vector index dimension mismatch: index has %d, embedder produces %d", meta.Dims, dims), nil)
	}
	if meta.Dims == 0 {
		meta.Dims = dims
	}

	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, hyerr.StoreCorruption("opening vector data file", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, hyerr.StoreCorruption("statting vector data file", err)
	}

	expectedSize := int64(meta.RowCount) * int64(meta.Dims) * bytesPerComponent
	if info.Size() > expectedSize {
		// A crash between appending rows and committing the sidecar leaves
		// extra, unregistered bytes at the tail. Those rows were never
		// handed out as a vector_mapping row index, so discarding them is
		// safe: truncate back to what the sidecar confirmed.
		if err := f.Truncate(expectedSize); err != nil {
			_ = f.Close()
			return nil, hyerr.StoreCorruption("truncating vector data file to sidecar size", err)
		}
	} else if info.Size() < expectedSize {
		_ = f.Close()
		return nil, hyerr.StoreCorruption(
			fmt.Sprintf("vector data file is shorter than the sidecar claims (%d < %d bytes); refusing to open a store with missing vector rows", info.Size(), expectedSize), nil)
	}

	tombstones := make(map[int]struct{}, len(meta.Tombstones))
	for _, row := range meta.Tombstones {
		tombstones[row] = struct{}{}
	}

	vi := &VectorIndex{
		dataPath:   dataPath,
		metaPath:   metaPath,
		dims:       meta.Dims,
		f:          f,
		rowCount:   meta.RowCount,
		tombstones: tombstones,
	}

	if expectedSize > 0 {
		mm, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			_ = f.Close()
			return nil, hyerr.StoreCorruption("memory-mapping vector data file", err)
		}
		vi.mm = mm
	}

	return vi, nil
}

func readVectorMeta(path string) (vectorMeta, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return vectorMeta{}, nil
	}
	if err != nil {
		return vectorMeta{}, hyerr.StoreCorruption("reading vector sidecar", err)
	}
	var meta vectorMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return vectorMeta{}, hyerr.StoreCorruption("parsing vector sidecar", err)
	}
	return meta, nil
}

func writeVectorMeta(path string, meta vectorMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Dims returns the vector dimensionality this index was opened with.
func (v *VectorIndex) Dims() int { return v.dims }

// RowCount returns the number of rows ever appended, including tombstoned ones.
func (v *VectorIndex) RowCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rowCount
}

// AppendBatch appends vectors as new rows and returns the row index
// assigned to each, in order. The data file is grown and fsynced, and the
// in-memory row count advances so row numbers stay stable for the rest of
// this process, but the sidecar is NOT updated here: these rows are only
// durable once the caller's wrapping SQL transaction actually commits.
// Callers must follow up with CommitAppend on success or AbortAppend on
// failure - until one of those runs, the rows exist on disk but are not
// yet authoritative.
func (v *VectorIndex) AppendBatch(vectors [][]float32) ([]int, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for i, vec := range vectors {
		if len(vec) != v.dims {
			return nil, hyerr.ValidationError(fmt.Sprintf("vector %d has %d dimensions, expected %d", i, len(vec), v.dims), nil)
		}
	}

	startRow := v.rowCount
	newRowCount := v.rowCount + len(vectors)
	newSize := int64(newRowCount) * int64(v.dims) * bytesPerComponent

	if v.mm != nil {
		if err := v.mm.Unmap(); err != nil {
			return nil, hyerr.StoreCorruption("unmapping vector data file before growth", err)
		}
		v.mm = nil
	}
	if err := v.f.Truncate(newSize); err != nil {
		return nil, hyerr.StoreCorruption("growing vector data file", err)
	}
	mm, err := mmap.Map(v.f, mmap.RDWR, 0)
	if err != nil {
		return nil, hyerr.StoreCorruption("remapping vector data file after growth", err)
	}
	v.mm = mm

	rowBytes := v.dims * bytesPerComponent
	for i, vec := range vectors {
		offset := (startRow + i) * rowBytes
		for j, val := range vec {
			bits := float16.Fromfloat32(val).Bits()
			binary.LittleEndian.PutUint16(v.mm[offset+j*bytesPerComponent:], bits)
		}
	}

	if err := v.mm.Flush(); err != nil {
		return nil, hyerr.StoreCorruption("flushing vector data to disk", err)
	}
	if err := v.f.Sync(); err != nil {
		return nil, hyerr.StoreCorruption("syncing vector data file", err)
	}

	v.rowCount = newRowCount

	rows := make([]int, len(vectors))
	for i := range vectors {
		rows[i] = startRow + i
	}
	return rows, nil
}

// CommitAppend persists the current row count to the sidecar, finalizing
// rows added by the most recent AppendBatch now that the wrapping SQL
// transaction has committed. Until this runs, those rows are live in the
// mmap file but not yet reachable after a restart.
func (v *VectorIndex) CommitAppend() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.persistMeta()
}

// AbortAppend discards rows added by the most recent AppendBatch whose
// wrapping SQL transaction failed to commit: it truncates the data file
// and the in-memory row count back to what the sidecar last confirmed, so
// the next AppendBatch reuses those row numbers instead of leaking them
// for the life of the process.
func (v *VectorIndex) AbortAppend() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := readVectorMeta(v.metaPath)
	if err != nil {
		return err
	}
	if meta.RowCount >= v.rowCount {
		// Nothing was appended since the last commit (or a previous abort
		// already ran); reverting would be a no-op.
		return nil
	}

	if v.mm != nil {
		if err := v.mm.Unmap(); err != nil {
			return hyerr.StoreCorruption("unmapping vector data file before abort", err)
		}
		v.mm = nil
	}
	size := int64(meta.RowCount) * int64(v.dims) * bytesPerComponent
	if err := v.f.Truncate(size); err != nil {
		return hyerr.StoreCorruption("truncating vector data file after aborted append", err)
	}
	if size > 0 {
		mm, err := mmap.Map(v.f, mmap.RDWR, 0)
		if err != nil {
			return hyerr.StoreCorruption("remapping vector data file after aborted append", err)
		}
		v.mm = mm
	}
	v.rowCount = meta.RowCount
	return nil
}

// MarkDeleted tombstones rows so they are skipped by Block scans. Rows are
// never reclaimed or compacted; the matrix only grows.
func (v *VectorIndex) MarkDeleted(rows []int) error {
	if len(rows) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, row := range rows {
		v.tombstones[row] = struct{}{}
	}
	return v.persistMeta()
}

// IsDeleted reports whether row has been tombstoned.
func (v *VectorIndex) IsDeleted(row int) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, deleted := v.tombstones[row]
	return deleted
}

func (v *VectorIndex) persistMeta() error {
	tombstones := make([]int, 0, len(v.tombstones))
	for row := range v.tombstones {
		tombstones = append(tombstones, row)
	}
	meta := vectorMeta{Dims: v.dims, RowCount: v.rowCount, Tombstones: tombstones}
	if err := writeVectorMeta(v.metaPath, meta); err != nil {
		return hyerr.StoreCorruption("writing vector sidecar", err)
	}
	return nil
}

// Block decodes rows [start, start+length) into float32 vectors, skipping
// none - callers check IsDeleted themselves so a block scan can account
// for tombstones without this method allocating two different shapes of
// result. length is clamped to the available row count.
func (v *VectorIndex) Block(start, length int) ([][]float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if start < 0 || start > v.rowCount {
		return nil, hyerr.ValidationError(fmt.Sprintf("block start %d out of range [0,%d]", start, v.rowCount), nil)
	}
	end := start + length
	if end > v.rowCount {
		end = v.rowCount
	}
	if end <= start {
		return nil, nil
	}

	rowBytes := v.dims * bytesPerComponent
	out := make([][]float32, end-start)
	for i := start; i < end; i++ {
		offset := i * rowBytes
		row := make([]float32, v.dims)
		for j := 0; j < v.dims; j++ {
			bits := binary.LittleEndian.Uint16(v.mm[offset+j*bytesPerComponent:])
			row[j] = float16.Frombits(bits).Float32()
		}
		out[i-start] = row
	}
	return out, nil
}

// Close unmaps and closes the underlying data file.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var err error
	if v.mm != nil {
		err = v.mm.Unmap()
		v.mm = nil
	}
	if closeErr := v.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
