package store

// schemaSQL creates the full relational schema: chunks and their FTS5
// shadow index, file signatures for incremental reindexing, run records,
// and the mapping from chunk ID to vector matrix row.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	start       INTEGER NOT NULL,
	end         INTEGER NOT NULL,
	text        TEXT NOT NULL,
	heading     TEXT NOT NULL DEFAULT '',
	run_id      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);

-- External-content FTS5 table: content lives in chunks.text, this table is
-- only the inverted index. unicode61 tokenizer splits on punctuation; the
-- code-aware camelCase/snake_case splitting happens before insert, so the
-- stored fts text is pre-tokenized and space-joined.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	id UNINDEXED,
	text,
	tokenize = 'unicode61'
);

CREATE TABLE IF NOT EXISTS file_signatures (
	path         TEXT PRIMARY KEY,
	size         INTEGER NOT NULL,
	mod_time     INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	last_run_id  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	started_at     INTEGER NOT NULL,
	finished_at    INTEGER,
	files_scanned  INTEGER NOT NULL DEFAULT 0,
	chunks_indexed INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	embedder_model TEXT NOT NULL DEFAULT '',
	embedder_dims  INTEGER NOT NULL DEFAULT 0
);

-- vector_row maps a chunk to its row in the mmap float16 matrix. A chunk
-- with no row yet (embedding still pending) has no entry here.
CREATE TABLE IF NOT EXISTS vector_mapping (
	chunk_id   TEXT PRIMARY KEY,
	vector_row INTEGER NOT NULL UNIQUE,
	FOREIGN KEY (chunk_id) REFERENCES chunks(id)
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`
