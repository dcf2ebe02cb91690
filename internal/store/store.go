package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/hybridrag3/internal/chunk"
	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

// Store persists chunks, their FTS5 keyword index, file signatures, run
// records, and the chunk-to-vector-row mapping. It pairs one SQLite
// database with one memory-mapped vector matrix, both rooted at the same
// directory. mu serializes writers: the SQL transaction and the vector
// matrix append it wraps must commit or abort together, which requires
// holding off a second writer until one InsertBatch/DeleteBySource fully
// resolves.
type Store struct {
	db      *sql.DB
	vectors *VectorIndex
	dir     string
	mu      sync.Mutex
}

// Open opens (creating if necessary) the store rooted at dir. dims is the
// dimensionality of the embedder currently in use; it only matters once
// the vector matrix holds rows, at which point a mismatch means the
// embedder changed and the index must be rebuilt.
func Open(dir string, dims int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, hyerr.Wrap(hyerr.ErrCodeFilePermission, err)
	}

	dbPath := filepath.Join(dir, "index.db")
	if err := validateSQLiteIntegrity(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, hyerr.StoreCorruption("opening sqlite database", err)
	}
	// FTS5 external-content updates and WAL checkpointing are not safe
	// across concurrent writer connections; one physical connection keeps
	// every write serialized the same way a single-writer WAL setup expects.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	vectors, err := OpenVectorIndex(dir, dims)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, vectors: vectors, dir: dir}, nil
}

// validateSQLiteIntegrity opens (if the file exists) a throwaway
// read-only connection and runs PRAGMA integrity_check before the real
// connection pool is established. A corrupted database is deleted along
// with its WAL/SHM siblings rather than left to fail every future query -
// the chunks and vectors it held are reconstructable by reindexing,
// unlike a silent data loss bug elsewhere in the store.
func validateSQLiteIntegrity(dbPath string) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return removeCorruptDatabase(dbPath)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil || result != "ok" {
		return removeCorruptDatabase(dbPath)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='chunks'`).Scan(&count); err != nil {
		return removeCorruptDatabase(dbPath)
	}
	if count == 0 {
		return removeCorruptDatabase(dbPath)
	}
	return nil
}

func removeCorruptDatabase(dbPath string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-65536",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return hyerr.StoreCorruption(fmt.Sprintf("applying pragma %q", p), err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return hyerr.StoreCorruption("applying schema", err)
	}
	return nil
}

// InsertBatch persists chunks and their embeddings as a unit: chunk rows,
// FTS5 rows, vector rows, and the chunk-to-row mapping for this run.
// len(chunks) must equal len(vectors); chunks with no embedding yet should
// not be passed here - FetchChunks without a vector_mapping row will
// simply be excluded from vector search until a later call embeds them.
//
// Chunk identity is content-addressed (source, offsets, content hash), so
// re-indexing unchanged content produces the same id: chunk and mapping
// rows use INSERT OR IGNORE, and a chunk the database already has is left
// untouched rather than replaced - its vector row and fts row already
// exist too, so only chunks newly inserted this call get a vector row
// appended at all. This keeps a re-run idempotent and keeps the vector
// matrix free of duplicate rows for content that hasn't changed.
func (s *Store) InsertBatch(ctx context.Context, runID string, chunks []*chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return hyerr.ValidationError(fmt.Sprintf("InsertBatch: %d chunks but %d vectors", len(chunks), len(vectors)), nil)
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return hyerr.StoreCorruption("beginning insert transaction", err)
	}
	defer tx.Rollback()

	insertChunk, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO chunks (id, source, chunk_index, start, end, text, heading, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return hyerr.StoreCorruption("preparing chunk insert", err)
	}
	defer insertChunk.Close()

	insertFTS, err := tx.PrepareContext(ctx, `INSERT INTO chunks_fts (id, text) VALUES (?, ?)`)
	if err != nil {
		return hyerr.StoreCorruption("preparing fts insert", err)
	}
	defer insertFTS.Close()

	insertMapping, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO vector_mapping (chunk_id, vector_row) VALUES (?, ?)`)
	if err != nil {
		return hyerr.StoreCorruption("preparing vector mapping insert", err)
	}
	defer insertMapping.Close()

	now := time.Now().Unix()
	var newChunks []*chunk.Chunk
	var newVectors [][]float32
	for i, c := range chunks {
		res, err := insertChunk.ExecContext(ctx, c.ID, c.Source, c.Index, c.Start, c.End, c.Text, c.Heading, runID, now)
		if err != nil {
			return hyerr.StoreCorruption("inserting chunk row", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return hyerr.StoreCorruption("checking chunk insert result", err)
		}
		if affected == 0 {
			continue
		}
		newChunks = append(newChunks, c)
		newVectors = append(newVectors, vectors[i])
		if _, err := insertFTS.ExecContext(ctx, c.ID, ftsTokens(c.Text)); err != nil {
			return hyerr.StoreCorruption("inserting fts row", err)
		}
	}

	var rows []int
	if len(newChunks) > 0 {
		rows, err = s.vectors.AppendBatch(newVectors)
		if err != nil {
			return err
		}
	}
	committed := false
	defer func() {
		if !committed && len(newChunks) > 0 {
			_ = s.vectors.AbortAppend()
		}
	}()

	for i, c := range newChunks {
		if _, err := insertMapping.ExecContext(ctx, c.ID, rows[i]); err != nil {
			return hyerr.StoreCorruption("inserting vector mapping row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return hyerr.StoreCorruption("committing insert transaction", err)
	}
	committed = true

	if len(newChunks) > 0 {
		if err := s.vectors.CommitAppend(); err != nil {
			return err
		}
	}
	return nil
}

// ftsTokens applies the code-aware tokenizer before handing text to FTS5,
// so camelCase and snake_case identifiers are searchable by their parts as
// well as the whole token.
func ftsTokens(text string) string {
	tokens := TokenizeCode(text)
	return strings.Join(tokens, " ")
}

// DeleteBySource removes every chunk extracted from source: its chunk
// rows, fts rows, vector mapping rows, and tombstones the corresponding
// vector matrix rows. Used when a file is deleted or changes and its
// stale chunks must not survive the next run.
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkIDs, err := s.chunkIDsForSource(ctx, source)
	if err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	rows, err := s.vectorRowsForChunks(ctx, chunkIDs)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return hyerr.StoreCorruption("beginning delete transaction", err)
	}
	defer tx.Rollback()

	for _, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE id = ?`, id); err != nil {
			return hyerr.StoreCorruption("deleting fts row", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_mapping WHERE chunk_id IN (SELECT id FROM chunks WHERE source = ?)`, source); err != nil {
		return hyerr.StoreCorruption("deleting vector mapping rows", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return hyerr.StoreCorruption("deleting chunk rows", err)
	}

	if err := tx.Commit(); err != nil {
		return hyerr.StoreCorruption("committing delete transaction", err)
	}

	return s.vectors.MarkDeleted(rows)
}

func (s *Store) chunkIDsForSource(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE source = ?`, source)
	if err != nil {
		return nil, hyerr.StoreCorruption("querying chunk ids for source", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, hyerr.StoreCorruption("scanning chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) vectorRowsForChunks(ctx context.Context, chunkIDs []string) ([]int, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT vector_row FROM vector_mapping WHERE chunk_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, hyerr.StoreCorruption("querying vector rows for chunks", err)
	}
	defer rows.Close()

	var result []int
	for rows.Next() {
		var row int
		if err := rows.Scan(&row); err != nil {
			return nil, hyerr.StoreCorruption("scanning vector row", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// FetchChunks loads chunk records by id, in no particular order. Missing
// ids are silently skipped.
func (s *Store) FetchChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT id, source, chunk_index, start, end, text, heading, run_id, created_at
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, hyerr.StoreCorruption("querying chunks", err)
	}
	defer rows.Close()

	var out []*ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Source, &r.Index, &r.Start, &r.End, &r.Text, &r.Heading, &r.RunID, &createdAt); err != nil {
			return nil, hyerr.StoreCorruption("scanning chunk row", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// FTSSearch runs a keyword search over the chunk text. Query terms are
// OR-joined rather than FTS5's default AND: a chunk matching any query
// term is a candidate, with bm25() ranking rewarding chunks matching more
// of them. This favors recall, leaving precision to the downstream fusion
// with vector search.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]BM25Result, error) {
	terms := TokenizeCode(query)
	if len(terms) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	ftsQuery := strings.Join(quoted, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bm25(chunks_fts) FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts)
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, hyerr.StoreCorruption("running fts query", err)
	}
	defer rows.Close()

	var out []BM25Result
	for rows.Next() {
		var id string
		var rawScore float64
		if err := rows.Scan(&id, &rawScore); err != nil {
			return nil, hyerr.StoreCorruption("scanning fts result", err)
		}
		// sqlite's bm25() returns negative scores by convention (lower is
		// better); negate so higher is always better, matching VectorResult.
		out = append(out, BM25Result{ChunkID: id, Score: -rawScore})
	}
	return out, rows.Err()
}

// VectorRowForChunk returns the vector matrix row assigned to chunkID, or
// ok=false if the chunk has no embedding yet.
func (s *Store) VectorRowForChunk(ctx context.Context, chunkID string) (row int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT vector_row FROM vector_mapping WHERE chunk_id = ?`, chunkID).Scan(&row)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, hyerr.StoreCorruption("querying vector row for chunk", err)
	}
	return row, true, nil
}

// ChunkIDForVectorRow returns the chunk id mapped to a vector matrix row,
// used by a block scan to translate row indices back into chunk
// identities once a top-K set is known.
func (s *Store) ChunkIDForVectorRow(ctx context.Context, row int) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT chunk_id FROM vector_mapping WHERE vector_row = ?`, row).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, hyerr.StoreCorruption("querying chunk id for vector row", err)
	}
	return id, true, nil
}

// Vectors exposes the underlying vector matrix for block-wise scanning.
func (s *Store) Vectors() *VectorIndex { return s.vectors }

// FileSignature returns the last recorded signature for path, or
// ok=false if path has never been indexed.
func (s *Store) FileSignature(ctx context.Context, path string) (sig FileSignature, ok bool, err error) {
	var modTime int64
	err = s.db.QueryRowContext(ctx, `
		SELECT path, size, mod_time, content_hash, last_run_id FROM file_signatures WHERE path = ?`, path).
		Scan(&sig.Path, &sig.Size, &modTime, &sig.ContentHash, &sig.LastRunID)
	if err == sql.ErrNoRows {
		return FileSignature{}, false, nil
	}
	if err != nil {
		return FileSignature{}, false, hyerr.StoreCorruption("querying file signature", err)
	}
	sig.ModTime = time.Unix(modTime, 0)
	return sig, true, nil
}

// PutFileSignature records the current signature of path, overwriting any
// previous entry.
func (s *Store) PutFileSignature(ctx context.Context, sig FileSignature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO file_signatures (path, size, mod_time, content_hash, last_run_id)
		VALUES (?, ?, ?, ?, ?)`, sig.Path, sig.Size, sig.ModTime.Unix(), sig.ContentHash, sig.LastRunID)
	if err != nil {
		return hyerr.StoreCorruption("writing file signature", err)
	}
	return nil
}

// DeleteFileSignature removes path's recorded signature, used alongside
// DeleteBySource when a previously indexed file disappears.
func (s *Store) DeleteFileSignature(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_signatures WHERE path = ?`, path)
	if err != nil {
		return hyerr.StoreCorruption("deleting file signature", err)
	}
	return nil
}

// AllFileSignatures returns every recorded signature, used to detect files
// removed from disk since the last run.
func (s *Store) AllFileSignatures(ctx context.Context) ([]FileSignature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, size, mod_time, content_hash, last_run_id FROM file_signatures`)
	if err != nil {
		return nil, hyerr.StoreCorruption("querying file signatures", err)
	}
	defer rows.Close()

	var out []FileSignature
	for rows.Next() {
		var sig FileSignature
		var modTime int64
		if err := rows.Scan(&sig.Path, &sig.Size, &modTime, &sig.ContentHash, &sig.LastRunID); err != nil {
			return nil, hyerr.StoreCorruption("scanning file signature", err)
		}
		sig.ModTime = time.Unix(modTime, 0)
		out = append(out, sig)
	}
	return out, rows.Err()
}

// StartRun records a new run in the in_progress state.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, started_at, files_scanned, chunks_indexed, error, embedder_model, embedder_dims)
		VALUES (?, ?, ?, 0, 0, '', ?, ?)`,
		run.ID, RunStatusInProgress, run.StartedAt.Unix(), run.EmbedderModel, run.EmbedderDims)
	if err != nil {
		return hyerr.StoreCorruption("inserting run record", err)
	}
	return nil
}

// FinishRun marks a run complete or failed and records its final counters.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, files_scanned = ?, chunks_indexed = ?, error = ?
		WHERE id = ?`,
		run.Status, run.FinishedAt.Unix(), run.FilesScanned, run.ChunksIndexed, run.Error, run.ID)
	if err != nil {
		return hyerr.StoreCorruption("updating run record", err)
	}
	return nil
}

// LatestRun returns the most recently started run, or ok=false if no run
// has ever been recorded.
func (s *Store) LatestRun(ctx context.Context) (run Run, ok bool, err error) {
	var finishedAt sql.NullInt64
	var startedAt int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, finished_at, files_scanned, chunks_indexed, error, embedder_model, embedder_dims
		FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&run.ID, &run.Status, &startedAt, &finishedAt, &run.FilesScanned, &run.ChunksIndexed, &run.Error, &run.EmbedderModel, &run.EmbedderDims)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, hyerr.StoreCorruption("querying latest run", err)
	}
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	return run, true, nil
}

// Checkpoint forces the WAL back into the main database file and flushes
// the vector sidecar, leaving the store in a consistent state a future
// open can resume from without replaying a large WAL.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return hyerr.StoreCorruption("checkpointing wal", err)
	}
	return nil
}

// Close flushes and closes both the database and the vector matrix.
func (s *Store) Close() error {
	var errs []error
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return hyerr.StoreCorruption("closing store", errs[0])
	}
	return nil
}
