// Package index provides the Indexer: the batch pipeline that scans a
// project, chunks changed files, embeds the chunks, and commits them to the
// Store.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/hybridrag3/internal/chunk"
	"github.com/Aman-CERP/hybridrag3/internal/config"
	"github.com/Aman-CERP/hybridrag3/internal/embed"
	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
	"github.com/Aman-CERP/hybridrag3/internal/scanner"
	"github.com/Aman-CERP/hybridrag3/internal/store"
)

// maxBlockSize is the bounded chunking block used when feeding a large file
// through the chunker: files larger than this are split into sequential
// blocks that still carry true file-absolute chunk offsets and IDs (see
// chunk.Chunker.ChunkAt).
const maxBlockSize = 200_000

// ProgressFunc receives incremental indexing progress. Any argument may be
// a zero value when not applicable to the current stage.
type ProgressFunc func(stage string, current, total int, file string)

// Options configures a single indexing run.
type Options struct {
	// RootDir is the project root to scan.
	RootDir string

	// StrongSignatures enables a content-hash check in addition to
	// size+mtime when deciding whether a file has changed. Costs a full
	// read of every scanned file even when size and mtime are unchanged.
	StrongSignatures bool

	// Workers bounds the embedding worker pool (0 = config.DefaultIndexWorkers()).
	Workers int

	// Progress is called with incremental progress updates (optional).
	Progress ProgressFunc
}

// Result summarizes a completed indexing run.
type Result struct {
	RunID         string
	FilesScanned  int
	FilesIndexed  int
	FilesSkipped  int
	FilesDeleted  int
	ChunksIndexed int
	Duration      time.Duration
}

// Indexer scans a project, chunks and embeds changed files, and commits the
// result to a Store. Concurrency across files is safe because the Store
// serializes SQL writes onto a single connection and guards its vector
// matrix with its own mutex; the Indexer only needs to bound how many files
// are in flight at once.
type Indexer struct {
	store    *store.Store
	embedder embed.Embedder
	chunker  *chunk.Chunker
	cfg      *config.Config
}

// New constructs an Indexer from its dependencies.
func New(st *store.Store, embedder embed.Embedder, cfg *config.Config) *Indexer {
	return &Indexer{
		store:    st,
		embedder: embedder,
		chunker:  chunk.New(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap),
		cfg:      cfg,
	}
}

// fileTask is one discovered file carried through the scan-then-process
// pipeline, paired with the signature it had the last time it was indexed
// (if any).
type fileTask struct {
	info     *scanner.FileInfo
	previous store.FileSignature
	hasPrev  bool
}

// Run executes one full indexing pass: scan, diff against recorded file
// signatures, chunk and embed changed files concurrently, commit them, and
// remove chunks for files that disappeared since the last run.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	runID := uuid.NewString()
	if err := ix.store.StartRun(ctx, store.Run{
		ID:            runID,
		Status:        store.RunStatusInProgress,
		StartedAt:     start,
		EmbedderModel: ix.embedder.ModelName(),
		EmbedderDims:  ix.embedder.Dimensions(),
	}); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	result, err := ix.run(ctx, runID, start, opts)
	if err != nil {
		_ = ix.store.FinishRun(ctx, store.Run{
			ID:         runID,
			Status:     store.RunStatusFailed,
			StartedAt:  start,
			FinishedAt: time.Now(),
			Error:      err.Error(),
		})
		return nil, err
	}

	if err := ix.store.FinishRun(ctx, store.Run{
		ID:            runID,
		Status:        store.RunStatusComplete,
		StartedAt:     start,
		FinishedAt:    time.Now(),
		FilesScanned:  result.FilesScanned,
		ChunksIndexed: result.ChunksIndexed,
		EmbedderModel: ix.embedder.ModelName(),
		EmbedderDims:  ix.embedder.Dimensions(),
	}); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}

	return result, nil
}

func (ix *Indexer) run(ctx context.Context, runID string, start time.Time, opts Options) (*Result, error) {
	files, err := ix.scan(ctx, opts)
	if err != nil {
		return nil, err
	}

	prior, err := ix.store.AllFileSignatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load file signatures: %w", err)
	}
	priorByPath := make(map[string]store.FileSignature, len(prior))
	for _, sig := range prior {
		priorByPath[sig.Path] = sig
	}

	seen := make(map[string]bool, len(files))
	tasks := make([]fileTask, 0, len(files))
	for _, f := range files {
		seen[f.Path] = true
		prev, hasPrev := priorByPath[f.Path]
		tasks = append(tasks, fileTask{info: f, previous: prev, hasPrev: hasPrev})
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = config.DefaultIndexWorkers()
	}

	var (
		filesIndexed  atomic.Int64
		filesSkipped  atomic.Int64
		chunksIndexed atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	total := len(tasks)
	for i, task := range tasks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		i, task := i, task
		g.Go(func() error {
			changed, sig, err := ix.hasChanged(gctx, task, runID, opts.StrongSignatures)
			if err != nil {
				return fmt.Errorf("check signature for %s: %w", task.info.Path, err)
			}
			if !changed {
				filesSkipped.Add(1)
				ix.report(opts.Progress, "index", i+1, total, task.info.Path)
				return nil
			}

			n, err := ix.indexFile(gctx, runID, task.info)
			if err != nil {
				return fmt.Errorf("index %s: %w", task.info.Path, err)
			}

			if err := ix.store.PutFileSignature(gctx, sig); err != nil {
				return fmt.Errorf("save signature for %s: %w", task.info.Path, err)
			}

			filesIndexed.Add(1)
			chunksIndexed.Add(int64(n))
			ix.report(opts.Progress, "index", i+1, total, task.info.Path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	deleted, err := ix.reconcileDeletions(ctx, prior, seen)
	if err != nil {
		return nil, err
	}

	return &Result{
		RunID:         runID,
		FilesScanned:  len(files),
		FilesIndexed:  int(filesIndexed.Load()),
		FilesSkipped:  int(filesSkipped.Load()),
		FilesDeleted:  deleted,
		ChunksIndexed: int(chunksIndexed.Load()),
		Duration:      time.Since(start),
	}, nil
}

// scan walks the project for indexable files using the gitignore-aware
// scanner.
func (ix *Indexer) scan(ctx context.Context, opts Options) ([]*scanner.FileInfo, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          opts.RootDir,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start scan: %w", err)
	}

	var files []*scanner.FileInfo
	var scanErrs int
	for res := range results {
		if res.Error != nil {
			scanErrs++
			slog.Warn("scan_file_error", slog.String("error", res.Error.Error()))
			continue
		}
		files = append(files, res.File)
	}

	slog.Info("index_scan_complete", slog.Int("files", len(files)), slog.Int("errors", scanErrs))
	return files, nil
}

// hasChanged compares a file's current disk state against its recorded
// signature. Size and mtime are always checked; content hashing only runs
// when strong is true or when size/mtime indicate a change, so most
// unchanged runs never touch file content.
func (ix *Indexer) hasChanged(ctx context.Context, task fileTask, runID string, strong bool) (bool, store.FileSignature, error) {
	fi, err := os.Stat(task.info.AbsPath)
	if err != nil {
		return false, store.FileSignature{}, err
	}

	sig := store.FileSignature{
		Path:      task.info.Path,
		Size:      fi.Size(),
		ModTime:   fi.ModTime(),
		LastRunID: runID,
	}

	// File signatures round-trip through the store at Unix-second
	// granularity (see Store.PutFileSignature), so the comparison here
	// must truncate to the same granularity or every file would look
	// changed on the run right after it was indexed.
	sizeOrTimeChanged := !task.hasPrev || sig.Size != task.previous.Size || sig.ModTime.Unix() != task.previous.ModTime.Unix()

	if !strong {
		if sizeOrTimeChanged {
			return true, sig, nil
		}
		return false, task.previous, nil
	}

	content, err := os.ReadFile(task.info.AbsPath)
	if err != nil {
		return false, store.FileSignature{}, err
	}
	sig.ContentHash = contentHash(content)

	if task.hasPrev && sig.ContentHash == task.previous.ContentHash {
		return false, task.previous, nil
	}
	return true, sig, nil
}

// indexFile reads, chunks, embeds, and commits a single file's content. It
// first deletes any chunks already recorded for the file so a changed file
// never leaves stale chunks behind alongside the new ones.
func (ix *Indexer) indexFile(ctx context.Context, runID string, file *scanner.FileInfo) (int, error) {
	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		return 0, hyerr.New(hyerr.ErrCodeFileNotFound, "cannot read file", err)
	}

	chunks := ix.chunkFile(file.Path, string(content))
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, hyerr.New(hyerr.ErrCodeEmbeddingFailed, "embedding batch failed", err)
	}

	if err := ix.store.DeleteBySource(ctx, file.Path); err != nil {
		return 0, fmt.Errorf("clear previous chunks: %w", err)
	}

	if err := ix.store.InsertBatch(ctx, runID, chunks, vectors); err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}

	return len(chunks), nil
}

// chunkFile splits a file's content into chunks, feeding it through the
// chunker in bounded blocks so a single very large file never allocates one
// enormous intermediate slice of matches in the chunker's boundary search.
func (ix *Indexer) chunkFile(path, text string) []*chunk.Chunk {
	if len(text) <= maxBlockSize {
		return ix.chunker.Chunk(path, text)
	}

	var all []*chunk.Chunk
	offset := 0
	index := 0
	for offset < len(text) {
		end := offset + maxBlockSize
		if end > len(text) {
			end = len(text)
		}
		block := ix.chunker.ChunkAt(path, text[offset:end], offset, index)
		all = append(all, block...)
		index += len(block)
		offset = end
	}
	return all
}

// reconcileDeletions removes chunks and signatures for files that were
// indexed previously but did not appear in this run's scan.
func (ix *Indexer) reconcileDeletions(ctx context.Context, prior []store.FileSignature, seen map[string]bool) (int, error) {
	deleted := 0
	for _, sig := range prior {
		if seen[sig.Path] {
			continue
		}
		if err := ix.store.DeleteBySource(ctx, sig.Path); err != nil {
			return deleted, fmt.Errorf("delete chunks for removed file %s: %w", sig.Path, err)
		}
		if err := ix.store.DeleteFileSignature(ctx, sig.Path); err != nil {
			return deleted, fmt.Errorf("delete signature for removed file %s: %w", sig.Path, err)
		}
		deleted++
	}
	return deleted, nil
}

func (ix *Indexer) report(fn ProgressFunc, stage string, current, total int, file string) {
	if fn == nil {
		return
	}
	fn(stage, current, total, file)
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
