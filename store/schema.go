package store

// schemaSQL is the DDL for all tables.
const schemaSQL = `
-- Document registry with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    parse_method TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Chunks in document order. seq is the chunk_id triples refer to; the
-- offsets index the document text rebuilt from all chunks of the document.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    content TEXT NOT NULL,
    chunk_type TEXT NOT NULL,
    heading TEXT,
    page_number INTEGER,
    element_ref TEXT,
    doc_offset_start INTEGER NOT NULL,
    doc_offset_end INTEGER NOT NULL,
    token_count INTEGER,
    metadata JSON,
    content_hash TEXT NOT NULL,
    UNIQUE(document_id, seq)
);

-- Structural elements a document_ref can point at
CREATE TABLE IF NOT EXISTS elements (
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    ref TEXT NOT NULL,
    kind TEXT,
    label TEXT,
    page_number INTEGER,
    bbox JSON,
    text TEXT,
    PRIMARY KEY (document_id, ref)
);

-- Extracted triples, in the order they were resolved
CREATE TABLE IF NOT EXISTS triples (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_seq INTEGER NOT NULL,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One provenance record per triple
CREATE TABLE IF NOT EXISTS source_spans (
    triple_id INTEGER PRIMARY KEY REFERENCES triples(id) ON DELETE CASCADE,
    span_type TEXT NOT NULL,
    text_evidence TEXT NOT NULL,
    confidence REAL NOT NULL,
    document_ref TEXT,
    subject_positions JSON NOT NULL,
    object_positions JSON NOT NULL,
    chunk_ids JSON NOT NULL,
    page_numbers JSON NOT NULL,
    doc_start INTEGER,
    doc_end INTEGER
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_triples_document ON triples(document_id);
CREATE INDEX IF NOT EXISTS idx_spans_type ON source_spans(span_type);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
`
