// Package chunk splits source text into an ordered sequence of overlapping
// chunks whose boundaries respect natural language structure where
// possible, and labels each with the nearest preceding section heading.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

var (
	sentenceBoundary = regexp.MustCompile(`[.!?][ \t\n]`)

	headingAllCaps  = regexp.MustCompile(`^[A-Z0-9][A-Z0-9 \t:_/-]*[A-Z0-9]$`)
	headingNumbered = regexp.MustCompile(`^\d+(\.\d+)*\s`)
	headingColon    = regexp.MustCompile(`:\s*$`)
	headingATX      = regexp.MustCompile(`^#{1,6}\s`)
)

// Chunker performs heading-aware sliding-window chunking.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New constructs a Chunker. A chunkSize or overlap of 0 falls back to the
// package defaults.
func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Chunk splits text (read from source) into an ordered, overlapping
// sequence of Chunks. Zero-length input emits no chunks; text shorter than
// chunkSize emits exactly one. Chunks never cross file boundaries — one
// call to Chunk covers exactly one file's text.
func (c *Chunker) Chunk(source, text string) []*Chunk {
	return c.ChunkAt(source, text, 0, 0)
}

// ChunkAt is Chunk for a block of text that begins at byteOffset within the
// original file and whose chunks continue a running Index sequence from
// startIndex. The Indexer uses this to feed a large file through in bounded
// blocks while every emitted Chunk still carries true file-relative offsets
// and a stable content-addressable ID (Start/End/Index here are the only
// state that a block split must not reset to zero).
func (c *Chunker) ChunkAt(source, text string, byteOffset, startIndex int) []*Chunk {
	if len(text) == 0 {
		return nil
	}

	var chunks []*Chunk
	start := 0
	index := startIndex

	for start < len(text) {
		end := c.findBoundary(text, start)
		if end <= start {
			end = len(text)
		}

		raw := text[start:end]
		heading := c.findHeading(text, start)

		payload := raw
		if heading != "" {
			payload = "[SECTION] " + heading + "\n" + raw
		}

		absStart := byteOffset + start
		absEnd := byteOffset + end

		chunks = append(chunks, &Chunk{
			ID:      c.chunkID(source, absStart, absEnd, raw),
			Source:  source,
			Index:   index,
			Start:   absStart,
			End:     absEnd,
			Text:    payload,
			Heading: heading,
		})
		index++

		if end >= len(text) {
			break
		}

		next := start + (c.chunkSize - c.overlap)
		if next <= start {
			next = end // guard against non-positive advance
		}
		start = next
	}

	return chunks
}

// findBoundary locates the end offset of the chunk starting at start,
// preferring (in order) a paragraph break, a sentence terminator, or any
// newline within the second half of the target window, falling back to a
// hard cut at the window edge.
func (c *Chunker) findBoundary(text string, start int) int {
	targetEnd := start + c.chunkSize
	if targetEnd >= len(text) {
		return len(text)
	}

	halfStart := start + c.chunkSize/2
	if halfStart >= targetEnd {
		halfStart = start
	}
	region := text[halfStart:targetEnd]

	if idx := strings.LastIndex(region, "\n\n"); idx != -1 {
		return halfStart + idx + 2
	}

	if locs := sentenceBoundary.FindAllStringIndex(region, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		return halfStart + last[1]
	}

	if idx := strings.LastIndex(region, "\n"); idx != -1 {
		return halfStart + idx + 1
	}

	return targetEnd
}

// findHeading scans backward up to HeadingLookback characters from start
// for the nearest line matching a heading pattern: an all-uppercase line, a
// numbered section, a line ending in a colon, or a Markdown ATX header.
func (c *Chunker) findHeading(text string, start int) string {
	lookbackStart := start - HeadingLookback
	if lookbackStart < 0 {
		lookbackStart = 0
	}
	region := text[lookbackStart:start]

	lines := strings.Split(region, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if isHeadingLine(line) {
			return line
		}
	}
	return ""
}

func isHeadingLine(line string) bool {
	if headingATX.MatchString(line) {
		return true
	}
	if headingNumbered.MatchString(line) {
		return true
	}
	if headingColon.MatchString(line) {
		return true
	}
	if hasLetter(line) && headingAllCaps.MatchString(line) && !strings.ContainsAny(line, "abcdefghijklmnopqrstuvwxyz") {
		return true
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return true
		}
	}
	return false
}

// chunkID derives a deterministic identifier from (source, start, end,
// content hash): re-ingesting unchanged content at the same offsets
// reproduces the same identifier, the basis of crash-safe, idempotent
// re-indexing.
func (c *Chunker) chunkID(source string, start, end int, rawText string) string {
	contentHash := sha256.Sum256([]byte(rawText))
	contentHashHex := hex.EncodeToString(contentHash[:])

	var b strings.Builder
	b.WriteString(source)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(start))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(end))
	b.WriteByte(0)
	b.WriteString(contentHashHex)

	idHash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(idHash[:])[:32]
}
