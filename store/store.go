package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/goprov/docref"
	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/locate"
	"github.com/brunobiangulo/goprov/span"
)

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	ParseMethod string `json:"parse_method"`
	Status      string `json:"status"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID             int64  `json:"id"`
	DocumentID     int64  `json:"document_id"`
	Seq            int    `json:"seq"`
	Content        string `json:"content"`
	ChunkType      string `json:"chunk_type"`
	Heading        string `json:"heading"`
	PageNumber     int    `json:"page_number"`
	ElementRef     string `json:"element_ref"`
	DocOffsetStart int    `json:"doc_offset_start"`
	DocOffsetEnd   int    `json:"doc_offset_end"`
	TokenCount     int    `json:"token_count"`
	Metadata       string `json:"metadata,omitempty"`
	ContentHash    string `json:"content_hash"`
}

// Document converts the row into the chunk record the resolver consumes.
func (c Chunk) Document() document.Chunk {
	return document.Chunk{
		ID:                  c.Seq,
		Text:                c.Content,
		DocumentOffsetStart: c.DocOffsetStart,
		DocumentOffsetEnd:   c.DocOffsetEnd,
		PageNumber:          c.PageNumber,
		Section:             c.Heading,
		ElementRef:          c.ElementRef,
	}
}

// DocumentChunks converts rows into resolver chunks, keeping their order.
func DocumentChunks(chunks []Chunk) []document.Chunk {
	out := make([]document.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = c.Document()
	}
	return out
}

// StoredSpan is a persisted triple with its source span.
type StoredSpan struct {
	TripleID int64 `json:"triple_id"`
	span.Resolved
}

// Store wraps the SQLite database for all goprov persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, filename, format, content_hash, parse_method, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content_hash = excluded.content_hash,
			parse_method = excluded.parse_method,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Path, doc.Filename, doc.Format, doc.ContentHash, doc.ParseMethod, doc.Status, nullJSON(doc.Metadata))
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	// If UPSERT did an UPDATE, LastInsertId may not reflect the existing row.
	if id == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT id FROM documents WHERE path = ?", doc.Path)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

const documentColumns = `id, path, filename, format, content_hash, parse_method, status, metadata, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	doc := &Document{}
	var metadata sql.NullString
	if err := row.Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.Format,
		&doc.ContentHash, &doc.ParseMethod, &doc.Status,
		&metadata, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Metadata = metadata.String
	return doc, nil
}

// GetDocumentByPath retrieves a document by its file path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE path = ?", path))
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// DeleteDocument removes a document and all related data.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteDocumentData(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		return err
	})
}

// DeleteDocumentData removes chunks, elements, triples and spans of a
// document but keeps the document record itself.
func (s *Store) DeleteDocumentData(ctx context.Context, docID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteDocumentData(ctx, tx, docID)
	})
}

func deleteDocumentData(ctx context.Context, tx *sql.Tx, docID int64) error {
	for _, q := range []string{
		"DELETE FROM source_spans WHERE triple_id IN (SELECT id FROM triples WHERE document_id = ?)",
		"DELETE FROM triples WHERE document_id = ?",
		"DELETE FROM elements WHERE document_id = ?",
		"DELETE FROM chunks WHERE document_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, docID); err != nil {
			return err
		}
	}
	return nil
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks of one document and returns their
// IDs. ContentHash is computed when empty.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, seq, content, chunk_type, heading, page_number,
				element_ref, doc_offset_start, doc_offset_end, token_count, metadata, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			contentHash := c.ContentHash
			if contentHash == "" {
				hash := sha256.Sum256([]byte(c.Content))
				contentHash = hex.EncodeToString(hash[:])
			}

			res, err := stmt.ExecContext(ctx,
				c.DocumentID, c.Seq, c.Content, c.ChunkType, c.Heading, c.PageNumber,
				c.ElementRef, c.DocOffsetStart, c.DocOffsetEnd, c.TokenCount,
				nullJSON(c.Metadata), contentHash)
			if err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.Seq, err)
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})

	return ids, err
}

// GetChunksByDocument returns all chunks of a document in sequence order.
func (s *Store) GetChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, seq, content, chunk_type, heading, page_number,
			element_ref, doc_offset_start, doc_offset_end, token_count, metadata, content_hash
		FROM chunks WHERE document_id = ? ORDER BY seq
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var heading, elementRef, metadata sql.NullString
		var page, tokens sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Content, &c.ChunkType,
			&heading, &page, &elementRef, &c.DocOffsetStart, &c.DocOffsetEnd,
			&tokens, &metadata, &c.ContentHash); err != nil {
			return nil, err
		}
		c.Heading = heading.String
		c.PageNumber = int(page.Int64)
		c.ElementRef = elementRef.String
		c.TokenCount = int(tokens.Int64)
		c.Metadata = metadata.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Element operations ---

// InsertElements stores the structural elements of a document, replacing
// elements with the same reference.
func (s *Store) InsertElements(ctx context.Context, docID int64, elements []docref.Element) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO elements (document_id, ref, kind, label, page_number, bbox, text)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range elements {
			ref := docref.Normalize(e.Ref)
			if ref == "" {
				continue
			}
			var bbox any
			if e.BBox != nil {
				b, err := json.Marshal(e.BBox)
				if err != nil {
					return err
				}
				bbox = string(b)
			}
			if _, err := stmt.ExecContext(ctx, docID, ref, string(e.Kind), e.Label, e.PageNumber, bbox, e.Text); err != nil {
				return fmt.Errorf("inserting element %s: %w", ref, err)
			}
		}
		return nil
	})
}

// GetElement resolves a document_ref within a document. It returns
// sql.ErrNoRows when the reference names no stored element.
func (s *Store) GetElement(ctx context.Context, docID int64, ref string) (*docref.Element, error) {
	return scanElement(s.db.QueryRowContext(ctx, `
		SELECT ref, kind, label, page_number, bbox, text
		FROM elements WHERE document_id = ? AND ref = ?
	`, docID, docref.Normalize(ref)))
}

// ListElements returns every stored element of a document as an index.
func (s *Store) ListElements(ctx context.Context, docID int64) (*docref.Index, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, kind, label, page_number, bbox, text
		FROM elements WHERE document_id = ?
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idx := docref.NewIndex()
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		idx.Add(*e)
	}
	return idx, rows.Err()
}

func scanElement(row interface{ Scan(...any) error }) (*docref.Element, error) {
	var e docref.Element
	var kind, label, bbox, text sql.NullString
	var page sql.NullInt64
	if err := row.Scan(&e.Ref, &kind, &label, &page, &bbox, &text); err != nil {
		return nil, err
	}
	e.Kind = docref.Kind(kind.String)
	e.Label = label.String
	e.PageNumber = int(page.Int64)
	e.Text = text.String
	if bbox.Valid && bbox.String != "" {
		e.BBox = &docref.BBox{}
		if err := json.Unmarshal([]byte(bbox.String), e.BBox); err != nil {
			return nil, fmt.Errorf("decoding bbox of %s: %w", e.Ref, err)
		}
	}
	return &e, nil
}

// --- Triple and span operations ---

// InsertResolved stores triples with their source spans in one
// transaction, replacing the triples previously stored for the document.
// It returns the new triple IDs in input order.
func (s *Store) InsertResolved(ctx context.Context, docID int64, resolved []span.Resolved) ([]int64, error) {
	ids := make([]int64, len(resolved))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM source_spans WHERE triple_id IN (SELECT id FROM triples WHERE document_id = ?)", docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM triples WHERE document_id = ?", docID); err != nil {
			return err
		}

		tripleStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO triples (document_id, chunk_seq, subject, predicate, object)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer tripleStmt.Close()

		spanStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO source_spans (triple_id, span_type, text_evidence, confidence, document_ref,
				subject_positions, object_positions, chunk_ids, page_numbers, doc_start, doc_end)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer spanStmt.Close()

		for i, r := range resolved {
			res, err := tripleStmt.ExecContext(ctx, docID, r.Triple.ChunkID, r.Triple.Subject, r.Triple.Predicate, r.Triple.Object)
			if err != nil {
				return fmt.Errorf("inserting triple %d: %w", i, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids[i] = id

			sp := r.Span
			subj, err := marshalJSON(sp.SubjectPositions)
			if err != nil {
				return err
			}
			obj, err := marshalJSON(sp.ObjectPositions)
			if err != nil {
				return err
			}
			chunkIDs, err := marshalJSON(sp.ChunkIDs)
			if err != nil {
				return err
			}
			pages, err := marshalJSON(sp.PageNumbers)
			if err != nil {
				return err
			}
			if _, err := spanStmt.ExecContext(ctx, id, string(sp.Type), sp.TextEvidence, sp.Confidence,
				sp.DocumentRef, subj, obj, chunkIDs, pages, sp.DocumentStart, sp.DocumentEnd); err != nil {
				return fmt.Errorf("inserting span of triple %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SpansByDocument returns the stored triples of a document with their
// spans, in the order they were resolved. spanType filters by type when
// not empty.
func (s *Store) SpansByDocument(ctx context.Context, docID int64, spanType span.Type) ([]StoredSpan, error) {
	query := `
		SELECT t.id, t.chunk_seq, t.subject, t.predicate, t.object,
			s.span_type, s.text_evidence, s.confidence, s.document_ref,
			s.subject_positions, s.object_positions, s.chunk_ids, s.page_numbers,
			s.doc_start, s.doc_end
		FROM triples t
		JOIN source_spans s ON s.triple_id = t.id
		WHERE t.document_id = ?`
	args := []any{docID}
	if spanType != "" {
		query += " AND s.span_type = ?"
		args = append(args, string(spanType))
	}
	query += " ORDER BY t.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSpan
	for rows.Next() {
		var ss StoredSpan
		var typ, subj, obj, chunkIDs, pages string
		var ref sql.NullString
		var docStart, docEnd sql.NullInt64
		if err := rows.Scan(&ss.TripleID, &ss.Triple.ChunkID, &ss.Triple.Subject, &ss.Triple.Predicate, &ss.Triple.Object,
			&typ, &ss.Span.TextEvidence, &ss.Span.Confidence, &ref,
			&subj, &obj, &chunkIDs, &pages, &docStart, &docEnd); err != nil {
			return nil, err
		}
		ss.Span.Type = span.Type(typ)
		ss.Span.DocumentRef = ref.String
		ss.Span.DocumentStart = int(docStart.Int64)
		ss.Span.DocumentEnd = int(docEnd.Int64)
		ss.Span.SubjectPositions = []locate.EntityOccurrence{}
		ss.Span.ObjectPositions = []locate.EntityOccurrence{}
		ss.Span.ChunkIDs = []int{}
		ss.Span.PageNumbers = []int{}
		for _, f := range []struct {
			raw  string
			dest any
		}{
			{subj, &ss.Span.SubjectPositions},
			{obj, &ss.Span.ObjectPositions},
			{chunkIDs, &ss.Span.ChunkIDs},
			{pages, &ss.Span.PageNumbers},
		} {
			if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
				return nil, fmt.Errorf("decoding span of triple %d: %w", ss.TripleID, err)
			}
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// SpanSummary counts the stored spans of a document by type.
func (s *Store) SpanSummary(ctx context.Context, docID int64) (span.Summary, error) {
	var summary span.Summary
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.span_type, COUNT(*)
		FROM source_spans s JOIN triples t ON t.id = s.triple_id
		WHERE t.document_id = ?
		GROUP BY s.span_type
	`, docID)
	if err != nil {
		return summary, err
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return summary, err
		}
		for i := 0; i < n; i++ {
			summary.Add(span.Type(typ))
		}
	}
	return summary, rows.Err()
}

// DBStats holds counts of key database objects.
type DBStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Elements  int `json:"elements"`
	Triples   int `json:"triples"`
	Spans     int `json:"spans"`
}

// DBStats returns row counts of the main tables.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM elements", &stats.Elements},
		{"SELECT COUNT(*) FROM triples", &stats.Triples},
		{"SELECT COUNT(*) FROM source_spans", &stats.Spans},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nullJSON stores empty metadata as NULL.
func nullJSON(s string) any {
	if s == "" {
		return nil
	}
	return s
}
