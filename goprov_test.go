//go:build cgo

package goprov

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/span"
)

const sampleText = `Methane oxidation is catalysed by MMO. The enzyme requires copper.

Copper uptake limits growth.

MMO is inhibited by acetylene.`

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "engine.db")
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func ingestSample(t *testing.T, e Engine) (int64, string) {
	t.Helper()
	path := writeFile(t, t.TempDir(), "paper.txt", sampleText)
	id, err := e.Ingest(context.Background(), path, WithMetadata(map[string]string{"source": "test"}))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return id, path
}

func sampleTriples() []document.Triple {
	return []document.Triple{
		{Subject: "Methane oxidation", Predicate: "catalysed by", Object: "MMO", ChunkID: 0},
		{Subject: "MMO", Predicate: "requires", Object: "copper", ChunkID: 0},
		{Subject: "Nitrogen", Predicate: "fixes", Object: "ammonia", ChunkID: 1},
		{Subject: "Copper", Predicate: "limits", Object: "growth", ChunkID: 1},
		{Subject: "MMO", Predicate: "inhibited by", Object: "acetylene", ChunkID: 2},
		{Subject: "acetylene", Predicate: "targets", Object: "methane oxidation", ChunkID: 2},
	}
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

func TestIngestStoresChunksAndElements(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id, _ := ingestSample(t, e)

	doc, err := e.Document(ctx, id)
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.Status != StatusReady || doc.ParseMethod != "native" || doc.Metadata["source"] != "test" {
		t.Errorf("unexpected document: %+v", doc)
	}

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Chunks != 3 || stats.Elements != 3 {
		t.Errorf("expected 3 chunks and 3 elements, got %+v", stats)
	}

	el, err := e.Element(ctx, id, "texts/1")
	if err != nil {
		t.Fatalf("element: %v", err)
	}
	if el.Text != "Copper uptake limits growth." {
		t.Errorf("element text = %q", el.Text)
	}
	if _, err := e.Element(ctx, id, "#/tables/0"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound, got %v", err)
	}
}

func TestIngestSkipsUnchanged(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id, path := ingestSample(t, e)

	again, err := e.Ingest(ctx, path)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if again != id {
		t.Errorf("expected same id, got %d vs %d", again, id)
	}

	changed, err := e.Update(ctx, path)
	if err != nil || changed {
		t.Errorf("Update on unchanged file: changed=%v err=%v", changed, err)
	}

	if err := os.WriteFile(path, []byte("Copper uptake limits growth."), 0644); err != nil {
		t.Fatal(err)
	}
	changed, err = e.Update(ctx, path)
	if err != nil || !changed {
		t.Fatalf("Update on changed file: changed=%v err=%v", changed, err)
	}
	stats, _ := e.Stats(ctx)
	if stats.Chunks != 1 {
		t.Errorf("expected re-ingest to replace chunks, got %d", stats.Chunks)
	}
}

func TestIngestUnsupportedFormat(t *testing.T) {
	e := newTestEngine(t)
	path := writeFile(t, t.TempDir(), "slides.key", "x")
	if _, err := e.Ingest(context.Background(), path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Resolve
// ---------------------------------------------------------------------------

func TestResolve(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id, _ := ingestSample(t, e)

	res, err := e.Resolve(ctx, id, sampleTriples())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	want := []span.Type{
		span.SingleSentence,
		span.MultiSentence,
		span.Unresolved,
		span.SingleSentence,
		span.SingleSentence,
		span.CrossChunk,
	}
	if len(res.Spans) != len(want) {
		t.Fatalf("expected %d spans, got %d", len(want), len(res.Spans))
	}
	// Output is in chunk order, then input order within a chunk.
	for i, w := range want {
		if got := res.Spans[i].Span.Type; got != w {
			t.Errorf("span %d (%s %s): got %s, want %s", i,
				res.Spans[i].Triple.Subject, res.Spans[i].Triple.Object, got, w)
		}
	}

	first := res.Spans[0].Span
	if first.TextEvidence != "Methane oxidation is catalysed by MMO." || first.DocumentRef != "#/texts/0" {
		t.Errorf("first span: %+v", first)
	}
	if res.Spans[1].Span.Confidence != span.DefaultMultiSentenceConfidence {
		t.Errorf("multi sentence confidence = %v", res.Spans[1].Span.Confidence)
	}
	cross := res.Spans[5].Span
	if len(cross.ChunkIDs) != 2 || cross.ChunkIDs[0] != 0 || cross.ChunkIDs[1] != 2 {
		t.Errorf("cross chunk ids = %v", cross.ChunkIDs)
	}

	if res.Summary.Total != 6 || res.Summary.SingleSentence != 3 || res.Summary.Unresolved != 1 {
		t.Errorf("summary: %+v", res.Summary)
	}

	stored, err := e.Summary(ctx, id)
	if err != nil {
		t.Fatalf("stored summary: %v", err)
	}
	if stored != res.Summary {
		t.Errorf("stored summary %+v != returned %+v", stored, res.Summary)
	}

	cc, err := e.Spans(ctx, id, span.CrossChunk)
	if err != nil {
		t.Fatalf("spans: %v", err)
	}
	if len(cc) != 1 || cc[0].Triple.Predicate != "targets" {
		t.Errorf("cross chunk spans: %+v", cc)
	}
}

func TestResolveIsRepeatable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id, _ := ingestSample(t, e)

	first, err := e.Resolve(ctx, id, sampleTriples())
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := e.Resolve(ctx, id, sampleTriples())
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	for i := range first.Spans {
		if first.Spans[i].Span.TextEvidence != second.Spans[i].Span.TextEvidence {
			t.Errorf("span %d differs between runs", i)
		}
	}

	stats, _ := e.Stats(ctx)
	if stats.Triples != len(sampleTriples()) {
		t.Errorf("resolving twice should replace spans, got %d triples", stats.Triples)
	}
}

func TestResolveErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id, _ := ingestSample(t, e)

	if _, err := e.Resolve(ctx, 999, nil); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}

	bad := []document.Triple{{Subject: "a", Predicate: "b", Object: "c", ChunkID: 42}}
	if _, err := e.Resolve(ctx, id, bad); !errors.Is(err, span.ErrUnknownChunk) {
		t.Errorf("expected ErrUnknownChunk, got %v", err)
	}
	stats, _ := e.Stats(ctx)
	if stats.Triples != 0 {
		t.Errorf("failed resolve should store nothing, got %d triples", stats.Triples)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.Resolve(canceled, id, sampleTriples()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

func TestListAndDelete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	id, _ := ingestSample(t, e)
	if _, err := e.Resolve(ctx, id, sampleTriples()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	docs, err := e.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Filename != "paper.txt" || docs[0].Format != "txt" {
		t.Fatalf("unexpected documents: %+v", docs)
	}

	if err := e.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := e.Delete(ctx, id); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second delete: expected ErrDocumentNotFound, got %v", err)
	}
	if _, err := e.Spans(ctx, id, ""); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("spans after delete: expected ErrDocumentNotFound, got %v", err)
	}
}
