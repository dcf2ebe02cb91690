package chunk

// Size defaults. ChunkSize and Overlap are normally supplied by
// config.ChunkingConfig; these are the fallback values a Chunker built with
// New(0, 0) falls back to.
const (
	DefaultChunkSize = 1200
	DefaultOverlap   = 200

	// HeadingLookback bounds how far Chunk scans backward for a section
	// heading to prepend to each emitted chunk (spec: "≈ 2000" characters).
	HeadingLookback = 2000
)

// Chunk is a contiguous passage extracted from one source file: the unit
// the Indexer embeds and the VectorStore persists.
type Chunk struct {
	// ID is a deterministic identifier derived from (source, start, end,
	// content hash) so re-indexing unchanged content reproduces the same
	// identifier. See (*Chunker).chunkID.
	ID string

	// Source is the path the chunk was extracted from.
	Source string

	// Index is this chunk's sequence position within its source file,
	// starting at 0.
	Index int

	// Start and End are the byte offsets of this chunk within the
	// original (pre-heading-prepend) source text.
	Start int
	End   int

	// Text is the chunk payload as handed to the embedder: the source
	// slice [Start:End), with the heading label (if one was found)
	// prepended.
	Text string

	// Heading is the section heading prepended to Text, or "" if no
	// heading was found within the lookback window.
	Heading string

	// Metadata carries format-specific, non-identity-bearing attributes.
	Metadata map[string]string
}
