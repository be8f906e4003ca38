// Package goprov ties extracted knowledge-graph triples back to the text
// that justifies them. Documents are parsed into chunks with exact
// offsets; triples extracted from those chunks are resolved to
// single-sentence, multi-sentence or cross-chunk source spans and stored
// next to the chunks they cite.
package goprov

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/brunobiangulo/goprov/chunker"
	"github.com/brunobiangulo/goprov/docref"
	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/parser"
	"github.com/brunobiangulo/goprov/segment"
	"github.com/brunobiangulo/goprov/span"
	"github.com/brunobiangulo/goprov/store"
)

// Document statuses.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Engine is the main entry point for provenance resolution.
type Engine interface {
	// Ingest parses and chunks a document and stores its chunks and
	// structural elements. Returns document ID. Skips if content hash
	// unchanged.
	Ingest(ctx context.Context, path string, opts ...IngestOption) (int64, error)

	// Update re-checks a document by hash. Re-ingests if changed.
	Update(ctx context.Context, path string) (bool, error)

	// Resolve finds a source span for every triple of an ingested document
	// and stores the result, replacing earlier resolutions.
	Resolve(ctx context.Context, documentID int64, triples []document.Triple) (*Result, error)

	// Spans returns the stored spans of a document, optionally filtered
	// by type.
	Spans(ctx context.Context, documentID int64, spanType span.Type) ([]store.StoredSpan, error)

	// Summary counts the stored spans of a document by type.
	Summary(ctx context.Context, documentID int64) (span.Summary, error)

	// Element looks up the structural element a document_ref points at.
	Element(ctx context.Context, documentID int64, ref string) (*docref.Element, error)

	// Document returns one ingested document.
	Document(ctx context.Context, documentID int64) (*Document, error)

	// ListDocuments returns all ingested documents.
	ListDocuments(ctx context.Context) ([]Document, error)

	// Delete removes a document and all associated data.
	Delete(ctx context.Context, documentID int64) error

	// Stats returns row counts of the database.
	Stats(ctx context.Context) (*store.DBStats, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Result is the outcome of resolving the triples of one document.
type Result struct {
	DocumentID int64           `json:"document_id"`
	Spans      []span.Resolved `json:"spans"`
	Summary    span.Summary    `json:"summary"`
}

// Document represents an ingested document.
type Document struct {
	ID          int64             `json:"id"`
	Path        string            `json:"path"`
	Filename    string            `json:"filename"`
	Format      string            `json:"format"`
	ContentHash string            `json:"content_hash"`
	ParseMethod string            `json:"parse_method"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	forceReparse bool
	metadata     map[string]string
}

// WithForceReparse forces re-parsing even if the hash hasn't changed.
func WithForceReparse() IngestOption {
	return func(o *ingestOptions) { o.forceReparse = true }
}

// WithMetadata attaches custom metadata to the ingested document.
func WithMetadata(metadata map[string]string) IngestOption {
	return func(o *ingestOptions) { o.metadata = metadata }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	store    *store.Store
	parsers  *parser.Registry
	chunkr   *chunker.Chunker
	segments *gocache.Cache
}

// New creates a new goprov engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Resolve database path from config (DBPath > DBName+StorageDir > default)
	dbPath := cfg.resolveDBPath()

	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ttl := cfg.segmentCacheTTL()
	cleanup := time.Duration(0)
	if ttl > 0 {
		cleanup = 2 * ttl
	}

	slog.Debug("engine: opened", "db", dbPath, "concurrency", cfg.Concurrency)
	return &engine{
		cfg:      cfg,
		store:    s,
		parsers:  parser.NewRegistry(),
		chunkr:   chunker.New(chunker.Config{MaxTokens: cfg.MaxChunkTokens}),
		segments: gocache.New(ttl, cleanup),
	}, nil
}

// Ingest processes a document through parsing and chunking.
func (e *engine) Ingest(ctx context.Context, path string, opts ...IngestOption) (int64, error) {
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolving path: %w", err)
	}

	// Compute file hash
	hash, err := fileHash(absPath)
	if err != nil {
		return 0, fmt.Errorf("hashing file: %w", err)
	}

	// Check if document already exists with same hash
	if !options.forceReparse {
		existing, err := e.store.GetDocumentByPath(ctx, absPath)
		if err == nil && existing.ContentHash == hash && existing.Status == StatusReady {
			slog.Debug("ingest: unchanged, skipping", "file", existing.Filename, "doc_id", existing.ID)
			return existing.ID, nil
		}
	}

	format := parser.Format(absPath)
	p, err := e.parsers.Get(format)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	var metadataJSON string
	if options.metadata != nil {
		data, _ := json.Marshal(options.metadata)
		metadataJSON = string(data)
	}

	filename := filepath.Base(absPath)
	docID, err := e.store.UpsertDocument(ctx, store.Document{
		Path:        absPath,
		Filename:    filename,
		Format:      format,
		ContentHash: hash,
		ParseMethod: "pending",
		Status:      StatusProcessing,
		Metadata:    metadataJSON,
	})
	if err != nil {
		return 0, fmt.Errorf("upserting document: %w", err)
	}

	slog.Info("ingest: parsing document", "file", filename, "format", format, "doc_id", docID)
	parseStart := time.Now()

	parsed, err := p.Parse(ctx, absPath)
	if err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, StatusError)
		return 0, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	slog.Info("ingest: parsing complete",
		"file", filename, "method", parsed.Method,
		"sections", len(parsed.Sections), "elapsed", time.Since(parseStart).Round(time.Millisecond))

	chunks := e.chunkr.Chunk(parsed.Sections)
	slog.Info("ingest: chunking complete",
		"file", filename, "chunks", len(chunks), "max_tokens", e.cfg.MaxChunkTokens)

	// Delete old chunks, elements and spans (re-ingest)
	if err := e.store.DeleteDocumentData(ctx, docID); err != nil {
		return 0, fmt.Errorf("cleaning old data: %w", err)
	}

	for i := range chunks {
		chunks[i].DocumentID = docID
	}
	if _, err := e.store.InsertChunks(ctx, chunks); err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, StatusError)
		return 0, fmt.Errorf("inserting chunks: %w", err)
	}
	elements := parsed.Elements()
	if err := e.store.InsertElements(ctx, docID, elements); err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, StatusError)
		return 0, fmt.Errorf("inserting elements: %w", err)
	}

	if _, err := e.store.UpsertDocument(ctx, store.Document{
		Path:        absPath,
		Filename:    filename,
		Format:      format,
		ContentHash: hash,
		ParseMethod: parsed.Method,
		Status:      StatusReady,
		Metadata:    metadataJSON,
	}); err != nil {
		return 0, fmt.Errorf("marking document ready: %w", err)
	}

	slog.Info("ingest: document ready",
		"file", filename, "doc_id", docID, "elements", len(elements),
		"total_elapsed", time.Since(parseStart).Round(time.Millisecond))
	return docID, nil
}

// Update checks if a document has changed and re-ingests if needed.
func (e *engine) Update(ctx context.Context, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}

	doc, err := e.store.GetDocumentByPath(ctx, absPath)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrDocumentNotFound, absPath)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return false, fmt.Errorf("hashing file: %w", err)
	}
	if hash == doc.ContentHash {
		return false, nil
	}

	if _, err := e.Ingest(ctx, absPath, WithForceReparse()); err != nil {
		return false, err
	}
	return true, nil
}

// Resolve loads the chunks of a document, resolves the triples against
// them in document order and persists the spans.
func (e *engine) Resolve(ctx context.Context, documentID int64, triples []document.Triple) (*Result, error) {
	doc, err := e.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusReady {
		return nil, fmt.Errorf("%w: %d is %s", ErrDocumentNotReady, documentID, doc.Status)
	}

	rows, err := e.store.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}

	stream := span.Stream{
		Options:     e.cfg.Resolution,
		Segment:     e.segment,
		Concurrency: e.cfg.Concurrency,
	}
	resolved, summary, err := stream.Run(ctx, store.DocumentChunks(rows), triples)
	if err != nil {
		return nil, fmt.Errorf("resolving document %d: %w", documentID, err)
	}

	if _, err := e.store.InsertResolved(ctx, documentID, resolved); err != nil {
		return nil, fmt.Errorf("storing spans: %w", err)
	}
	slog.Info("resolve: spans stored",
		"doc_id", documentID, "file", doc.Filename,
		"triples", summary.Total, "resolved_ratio", summary.ResolvedRatio())

	return &Result{DocumentID: documentID, Spans: resolved, Summary: summary}, nil
}

// segment splits a chunk into sentences, reusing earlier results for
// identical chunks. Sentences carry document offsets, so the key includes
// the chunk position.
func (e *engine) segment(c document.Chunk) []document.Sentence {
	h := sha256.Sum256([]byte(c.Text))
	key := hex.EncodeToString(h[:]) + ":" + strconv.Itoa(c.DocumentOffsetStart)
	if v, ok := e.segments.Get(key); ok {
		return v.([]document.Sentence)
	}
	sentences := segment.Segment(c)
	e.segments.Set(key, sentences, gocache.DefaultExpiration)
	return sentences
}

func (e *engine) Spans(ctx context.Context, documentID int64, spanType span.Type) ([]store.StoredSpan, error) {
	if _, err := e.document(ctx, documentID); err != nil {
		return nil, err
	}
	return e.store.SpansByDocument(ctx, documentID, spanType)
}

func (e *engine) Summary(ctx context.Context, documentID int64) (span.Summary, error) {
	if _, err := e.document(ctx, documentID); err != nil {
		return span.Summary{}, err
	}
	return e.store.SpanSummary(ctx, documentID)
}

func (e *engine) Element(ctx context.Context, documentID int64, ref string) (*docref.Element, error) {
	if _, err := e.document(ctx, documentID); err != nil {
		return nil, err
	}
	el, err := e.store.GetElement(ctx, documentID, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, ref)
	}
	return el, err
}

func (e *engine) Document(ctx context.Context, documentID int64) (*Document, error) {
	d, err := e.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	doc := toDocument(*d)
	return &doc, nil
}

// document fetches a stored document, mapping a missing row to
// ErrDocumentNotFound.
func (e *engine) document(ctx context.Context, documentID int64) (*store.Document, error) {
	d, err := e.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
	}
	return d, err
}

// Delete removes a document and all its associated data.
func (e *engine) Delete(ctx context.Context, documentID int64) error {
	if _, err := e.document(ctx, documentID); err != nil {
		return err
	}
	return e.store.DeleteDocument(ctx, documentID)
}

// ListDocuments returns all ingested documents.
func (e *engine) ListDocuments(ctx context.Context) ([]Document, error) {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Document, len(docs))
	for i, d := range docs {
		result[i] = toDocument(d)
	}
	return result, nil
}

func (e *engine) Stats(ctx context.Context) (*store.DBStats, error) {
	return e.store.DBStats(ctx)
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine.
func (e *engine) Close() error {
	e.segments.Flush()
	return e.store.Close()
}

func toDocument(d store.Document) Document {
	doc := Document{
		ID:          d.ID,
		Path:        d.Path,
		Filename:    d.Filename,
		Format:      d.Format,
		ContentHash: d.ContentHash,
		ParseMethod: d.ParseMethod,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Metadata != "" {
		_ = json.Unmarshal([]byte(d.Metadata), &doc.Metadata)
	}
	return doc
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
