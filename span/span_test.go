package span

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/segment"
)

// chunksOf builds consecutive chunks as the chunker would: IDs from 0,
// texts joined by a blank line, one page and one text element per chunk.
func chunksOf(texts ...string) []document.Chunk {
	chunks := make([]document.Chunk, len(texts))
	offset := 0
	for i, text := range texts {
		chunks[i] = document.Chunk{
			ID:                  i,
			Text:                text,
			DocumentOffsetStart: offset,
			DocumentOffsetEnd:   offset + len(text),
			PageNumber:          i + 1,
			Section:             "Results",
			ElementRef:          "#/texts/" + strconv.Itoa(i),
		}
		offset += len(text) + 2
	}
	return chunks
}

// resolveOne registers a single chunk and resolves one triple against it.
func resolveOne(t *testing.T, text string, triple document.Triple) SourceSpan {
	t.Helper()
	c := chunksOf(text)[0]
	sentences := segment.Segment(c)
	tr := NewTracker(DefaultOptions())
	if err := tr.Register(c, sentences); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s, err := New(DefaultOptions(), tr).Resolve(triple, c, sentences)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

func TestResolveSingleSentence(t *testing.T) {
	s := resolveOne(t, "Methane is oxidized by Methanotrophs.",
		document.Triple{Subject: "Methanotrophs", Predicate: "oxidizes", Object: "Methane"})

	if s.Type != SingleSentence {
		t.Fatalf("type = %q, want %q", s.Type, SingleSentence)
	}
	if s.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", s.Confidence)
	}
	if s.TextEvidence != "Methane is oxidized by Methanotrophs." {
		t.Errorf("evidence = %q", s.TextEvidence)
	}
	if s.DocumentRef != "#/texts/0" {
		t.Errorf("document_ref = %q, want #/texts/0", s.DocumentRef)
	}
	if len(s.SubjectPositions) != 1 || s.SubjectPositions[0].MatchedText != "Methanotrophs" {
		t.Errorf("subject positions = %+v", s.SubjectPositions)
	}
	if len(s.ObjectPositions) != 1 || s.ObjectPositions[0].MatchedText != "Methane" {
		t.Errorf("object positions = %+v", s.ObjectPositions)
	}
	if s.DocumentStart != 0 || s.DocumentEnd != len("Methane is oxidized by Methanotrophs.") {
		t.Errorf("document range = [%d:%d]", s.DocumentStart, s.DocumentEnd)
	}
}

func TestResolveMultiSentence(t *testing.T) {
	text := "Methanotrophs are abundant in soil. They convert methane to methanol."
	s := resolveOne(t, text,
		document.Triple{Subject: "Methanotrophs", Predicate: "convert", Object: "methanol"})

	if s.Type != MultiSentence {
		t.Fatalf("type = %q, want %q", s.Type, MultiSentence)
	}
	if s.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", s.Confidence)
	}
	if s.TextEvidence != text {
		t.Errorf("evidence = %q, want both sentences", s.TextEvidence)
	}
	if s.SubjectPositions[0].SentenceID != 0 || s.ObjectPositions[0].SentenceID != 1 {
		t.Errorf("positions in wrong sentences: %+v / %+v", s.SubjectPositions, s.ObjectPositions)
	}
}

func TestResolveKeepsOriginalWhitespace(t *testing.T) {
	text := "Copper was added.\nThen sMMO expression stopped."
	s := resolveOne(t, text, document.Triple{Subject: "Copper", Predicate: "represses", Object: "sMMO"})
	if s.Type != MultiSentence || s.TextEvidence != text {
		t.Errorf("got %q %q", s.Type, s.TextEvidence)
	}
}

func TestResolveTooFarApart(t *testing.T) {
	text := "Methanotrophs grow slowly. One. Two. Three. Methanol accumulates."
	s := resolveOne(t, text, document.Triple{Subject: "Methanotrophs", Predicate: "make", Object: "methanol"})
	if s.Type != Unresolved || s.Confidence != 0 {
		t.Errorf("got %q %v, want unresolved 0", s.Type, s.Confidence)
	}
}

func TestResolveTieBreak(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantType Type
		want     string
	}{
		{
			name:     "same sentence beats adjacent",
			text:     "Methane rises. Methanotrophs eat methane. Methane is common.",
			wantType: SingleSentence,
			want:     "Methanotrophs eat methane.",
		},
		{
			name:     "equal distance prefers earliest offset",
			text:     "Methane rises. Methanotrophs thrive. Methane is common.",
			wantType: MultiSentence,
			want:     "Methane rises. Methanotrophs thrive.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := resolveOne(t, tt.text, document.Triple{Subject: "Methanotrophs", Predicate: "eat", Object: "methane"})
			if s.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", s.Type, tt.wantType)
			}
			if s.TextEvidence != tt.want {
				t.Errorf("evidence = %q, want %q", s.TextEvidence, tt.want)
			}
		})
	}
}

func TestResolveRelaxedLowersConfidence(t *testing.T) {
	s := resolveOne(t, "Methylosinus trichosporium OB3b oxidizes methane.",
		document.Triple{Subject: "M. trichosporium", Predicate: "oxidizes", Object: "methane"})
	if s.Type != SingleSentence {
		t.Fatalf("type = %q, want %q", s.Type, SingleSentence)
	}
	if math.Abs(s.Confidence-0.9) > 1e-9 {
		t.Errorf("confidence = %v, want 0.9", s.Confidence)
	}
	if s.SubjectPositions[0].MatchedText != "trichosporium" {
		t.Errorf("subject matched %q", s.SubjectPositions[0].MatchedText)
	}
}

func TestResolveUnresolved(t *testing.T) {
	s := resolveOne(t, "Methane is oxidized by Methanotrophs.",
		document.Triple{Subject: "nitrogenase", Predicate: "fixes", Object: "dinitrogen"})
	if s.Type != Unresolved {
		t.Fatalf("type = %q, want unresolved", s.Type)
	}
	if s.Confidence != 0 || s.TextEvidence != "" {
		t.Errorf("unresolved span carries evidence: %+v", s)
	}
	if s.SubjectPositions == nil || s.ObjectPositions == nil {
		t.Error("unresolved positions should be empty, not nil")
	}
}

func TestResolveEmptyChunk(t *testing.T) {
	c := document.Chunk{ID: 0, Text: "   "}
	tr := NewTracker(DefaultOptions())
	if err := tr.Register(c, segment.Segment(c)); err != nil {
		t.Fatal(err)
	}
	s, err := New(DefaultOptions(), tr).Resolve(document.Triple{Subject: "a", Object: "b"}, c, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Type != Unresolved {
		t.Errorf("type = %q, want unresolved", s.Type)
	}
}

func TestResolveOutOfOrder(t *testing.T) {
	chunks := chunksOf("Chunk zero.", "Chunk one.", "Chunk two.")
	tr := NewTracker(DefaultOptions())
	for _, c := range chunks {
		if err := tr.Register(c, segment.Segment(c)); err != nil {
			t.Fatalf("Register(%d): %v", c.ID, err)
		}
	}
	late := document.Chunk{ID: 10, Text: "Methane is oxidized by Methanotrophs."}
	_, err := New(DefaultOptions(), tr).Resolve(
		document.Triple{Subject: "Methanotrophs", Object: "Methane", ChunkID: 10}, late, segment.Segment(late))
	if !errors.Is(err, ErrOutOfOrderRegistration) {
		t.Fatalf("err = %v, want ErrOutOfOrderRegistration", err)
	}
}

func TestResolveChunkMismatch(t *testing.T) {
	c := chunksOf("Methane is oxidized by Methanotrophs.")[0]
	_, err := New(DefaultOptions(), nil).Resolve(
		document.Triple{Subject: "Methanotrophs", Object: "Methane", ChunkID: 4}, c, segment.Segment(c))
	if !errors.Is(err, ErrChunkMismatch) {
		t.Fatalf("err = %v, want ErrChunkMismatch", err)
	}
}

func TestResolveWithoutTracker(t *testing.T) {
	c := chunksOf("Methane is oxidized by Methanotrophs.")[0]
	s, err := New(Options{}, nil).Resolve(
		document.Triple{Subject: "Methanotrophs", Object: "Methane"}, c, segment.Segment(c))
	if err != nil || s.Type != SingleSentence {
		t.Errorf("got %q, %v", s.Type, err)
	}
}

// ---------------------------------------------------------------------------
// Tracker
// ---------------------------------------------------------------------------

var crossChunkTexts = []string{
	"Methylosinus trichosporium OB3b was isolated from peat.",
	"Cultures were incubated at 30 degrees.",
	"Copper was omitted from the medium.",
	"The strain produces methanol from methane.",
}

func registerAll(t *testing.T, tr *Tracker, chunks []document.Chunk) {
	t.Helper()
	for _, c := range chunks {
		if err := tr.Register(c, segment.Segment(c)); err != nil {
			t.Fatalf("Register(%d): %v", c.ID, err)
		}
	}
}

func TestCrossChunk(t *testing.T) {
	chunks := chunksOf(crossChunkTexts...)
	opts := DefaultOptions()
	opts.WindowSize = 4
	tr := NewTracker(opts)
	registerAll(t, tr, chunks)

	d := chunks[3]
	triple := document.Triple{Subject: "Methylosinus trichosporium OB3b", Predicate: "produces", Object: "methanol", ChunkID: 3}
	s, err := New(opts, tr).Resolve(triple, d, segment.Segment(d))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Type != CrossChunk {
		t.Fatalf("type = %q, want %q", s.Type, CrossChunk)
	}
	if s.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", s.Confidence)
	}
	wantEvidence := crossChunkTexts[0] + " ... " + crossChunkTexts[3]
	if s.TextEvidence != wantEvidence {
		t.Errorf("evidence = %q, want %q", s.TextEvidence, wantEvidence)
	}
	if s.DocumentRef != "#/texts/0" {
		t.Errorf("document_ref = %q, want the subject chunk #/texts/0", s.DocumentRef)
	}
	if len(s.ChunkIDs) != 2 || s.ChunkIDs[0] != 0 || s.ChunkIDs[1] != 3 {
		t.Errorf("chunk ids = %v, want [0 3]", s.ChunkIDs)
	}
	if len(s.PageNumbers) != 2 || s.PageNumbers[0] != 1 || s.PageNumbers[1] != 4 {
		t.Errorf("pages = %v, want [1 4]", s.PageNumbers)
	}
	if s.SubjectPositions[0].ChunkID != 0 || s.ObjectPositions[0].ChunkID != 3 {
		t.Errorf("positions not stamped with their chunks: %+v / %+v", s.SubjectPositions, s.ObjectPositions)
	}
	if s.DocumentStart != 0 || s.DocumentEnd != d.DocumentOffsetEnd {
		t.Errorf("document range = [%d:%d], want [0:%d]", s.DocumentStart, s.DocumentEnd, d.DocumentOffsetEnd)
	}
}

func TestCrossChunkObjectInPriorChunk(t *testing.T) {
	chunks := chunksOf("Methanol is toxic at high concentrations.", "Methanotrophs tolerate it well.")
	tr := NewTracker(DefaultOptions())
	registerAll(t, tr, chunks)

	triple := document.Triple{Subject: "Methanotrophs", Predicate: "tolerate", Object: "Methanol", ChunkID: 1}
	s, err := New(DefaultOptions(), tr).Resolve(triple, chunks[1], segment.Segment(chunks[1]))
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != CrossChunk {
		t.Fatalf("type = %q, want %q", s.Type, CrossChunk)
	}
	if s.DocumentRef != "#/texts/1" {
		t.Errorf("document_ref = %q, want the subject chunk #/texts/1", s.DocumentRef)
	}
	if s.TextEvidence != "Methanol is toxic at high concentrations. ... Methanotrophs tolerate it well." {
		t.Errorf("evidence = %q", s.TextEvidence)
	}
}

func TestCrossChunkEvicted(t *testing.T) {
	chunks := chunksOf(crossChunkTexts...)
	opts := DefaultOptions()
	opts.WindowSize = 3
	tr := NewTracker(opts)
	registerAll(t, tr, chunks)

	triple := document.Triple{Subject: "Methylosinus trichosporium OB3b", Predicate: "produces", Object: "methanol", ChunkID: 3}
	s, err := New(opts, tr).Resolve(triple, chunks[3], segment.Segment(chunks[3]))
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != Unresolved {
		t.Errorf("type = %q, want unresolved once chunk 0 left the window", s.Type)
	}
}

func TestCrossChunkWindowCountsCurrentChunk(t *testing.T) {
	chunks := chunksOf(crossChunkTexts...)
	triple := document.Triple{Subject: "Methylosinus trichosporium OB3b", Predicate: "produces", Object: "methanol", ChunkID: 3}

	// Chunk 3 sits three chunks after chunk 0: a window of 4 holds chunks
	// 0 to 3, a window of 3 only chunks 1 to 3.
	for size, want := range map[int]Type{4: CrossChunk, 3: Unresolved} {
		opts := DefaultOptions()
		opts.WindowSize = size
		tr := NewTracker(opts)
		registerAll(t, tr, chunks)
		s, err := New(opts, tr).Resolve(triple, chunks[3], segment.Segment(chunks[3]))
		if err != nil {
			t.Fatal(err)
		}
		if s.Type != want {
			t.Errorf("window %d: type = %q, want %q", size, s.Type, want)
		}
	}
}

func TestCrossChunkIgnoresLaterChunks(t *testing.T) {
	chunks := chunksOf("The strain produces methanol.", "Methylosinus trichosporium OB3b is the strain.")
	tr := NewTracker(DefaultOptions())
	registerAll(t, tr, chunks)

	triple := document.Triple{Subject: "Methylosinus trichosporium OB3b", Object: "methanol", ChunkID: 0}
	if _, ok := tr.ResolveCrossChunk(triple, chunks[0], segment.Segment(chunks[0])); ok {
		t.Error("paired with a chunk that comes after the current one")
	}
}

func TestTrackerRegisterOrder(t *testing.T) {
	tr := NewTracker(DefaultOptions())
	if tr.Registered(0) {
		t.Error("empty tracker reports chunk 0 registered")
	}
	if err := tr.Register(document.Chunk{ID: 2}, nil); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int{2, 1} {
		if err := tr.Register(document.Chunk{ID: id}, nil); !errors.Is(err, ErrOutOfOrderRegistration) {
			t.Errorf("Register(%d) err = %v, want ErrOutOfOrderRegistration", id, err)
		}
	}
	if !tr.Registered(2) || tr.Registered(3) {
		t.Error("registration high-water mark wrong")
	}
	if tr.LastChunkID() != 2 {
		t.Errorf("LastChunkID = %d, want 2", tr.LastChunkID())
	}
}

func TestTrackerSkippedIDNotRegistered(t *testing.T) {
	opts := DefaultOptions()
	tr := NewTracker(opts)
	for _, id := range []int{0, 5} {
		if err := tr.Register(document.Chunk{ID: id, Text: "Filler text."}, nil); err != nil {
			t.Fatal(err)
		}
	}
	for id, want := range map[int]bool{0: true, 3: false, 5: true, 6: false} {
		if got := tr.Registered(id); got != want {
			t.Errorf("Registered(%d) = %v, want %v", id, got, want)
		}
	}

	// A hand-built chunk with a skipped ID is rejected by the resolver.
	chunk := document.Chunk{ID: 3, Text: "Alpha binds beta.", DocumentOffsetEnd: 17}
	triple := document.Triple{Subject: "Alpha", Object: "beta", ChunkID: 3}
	_, err := New(opts, tr).Resolve(triple, chunk, segment.Segment(chunk))
	if !errors.Is(err, ErrOutOfOrderRegistration) {
		t.Errorf("err = %v, want ErrOutOfOrderRegistration", err)
	}
}

func TestTrackerMentions(t *testing.T) {
	chunks := chunksOf(
		"Methane appears first.",
		"No match here.",
		"Methane again. And methane once more.",
	)
	opts := DefaultOptions()
	opts.WindowSize = 2
	tr := NewTracker(opts)
	registerAll(t, tr, chunks)

	got := tr.Mentions("methane")
	if len(got) != 2 {
		t.Fatalf("got %d mentions, want 2 (chunk 0 evicted): %+v", len(got), got)
	}
	if got[0].ChunkID != 2 || got[0].SentenceID != 1 {
		t.Errorf("first mention = %+v, want chunk 2 sentence 1", got[0])
	}
	if got[1].ChunkID != 2 || got[1].SentenceID != 0 {
		t.Errorf("second mention = %+v, want chunk 2 sentence 0", got[1])
	}
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func streamInput() ([]document.Chunk, []document.Triple) {
	chunks := chunksOf(append([]string{
		"Methane is oxidized by Methanotrophs.",
	}, crossChunkTexts...)...)
	triples := []document.Triple{
		{Subject: "Methylosinus trichosporium OB3b", Predicate: "produces", Object: "methanol", ChunkID: 4},
		{Subject: "Methanotrophs", Predicate: "oxidize", Object: "Methane", ChunkID: 0},
		{Subject: "nitrogenase", Predicate: "fixes", Object: "dinitrogen", ChunkID: 2},
		{Subject: "Copper", Predicate: "omitted from", Object: "medium", ChunkID: 3},
	}
	return chunks, triples
}

func TestResolveStream(t *testing.T) {
	chunks, triples := streamInput()
	got, summary, err := ResolveStream(context.Background(), chunks, triples, DefaultOptions())
	if err != nil {
		t.Fatalf("ResolveStream: %v", err)
	}
	if len(got) != len(triples) {
		t.Fatalf("got %d spans, want %d", len(got), len(triples))
	}

	wantOrder := []int{0, 2, 3, 4}
	wantTypes := []Type{SingleSentence, Unresolved, SingleSentence, CrossChunk}
	for i, r := range got {
		if r.Triple.ChunkID != wantOrder[i] {
			t.Errorf("result %d chunk = %d, want %d", i, r.Triple.ChunkID, wantOrder[i])
		}
		if r.Span.Type != wantTypes[i] {
			t.Errorf("result %d type = %q, want %q", i, r.Span.Type, wantTypes[i])
		}
	}

	want := Summary{SingleSentence: 2, CrossChunk: 1, Unresolved: 1, Total: 4}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if summary != Summarize(spansOf(got)) {
		t.Error("Summarize disagrees with the stream summary")
	}
}

func spansOf(rs []Resolved) []SourceSpan {
	out := make([]SourceSpan, len(rs))
	for i, r := range rs {
		out[i] = r.Span
	}
	return out
}

func TestResolveStreamIdempotent(t *testing.T) {
	chunks, triples := streamInput()
	var outputs [][]byte
	for _, st := range []Stream{{}, {}, {Concurrency: 4}} {
		got, _, err := st.Run(context.Background(), chunks, triples)
		if err != nil {
			t.Fatal(err)
		}
		b, err := json.Marshal(got)
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, b)
	}
	for i := 1; i < len(outputs); i++ {
		if string(outputs[i]) != string(outputs[0]) {
			t.Errorf("run %d differs:\n%s\n%s", i, outputs[0], outputs[i])
		}
	}
}

func TestResolveStreamUnknownChunk(t *testing.T) {
	chunks, triples := streamInput()
	triples = append(triples, document.Triple{Subject: "a", Object: "b", ChunkID: 10})
	got, _, err := ResolveStream(context.Background(), chunks, triples, DefaultOptions())
	if !errors.Is(err, ErrUnknownChunk) {
		t.Fatalf("err = %v, want ErrUnknownChunk", err)
	}
	if !errors.Is(err, ErrOutOfOrderRegistration) {
		t.Errorf("err = %v, want it to also match ErrOutOfOrderRegistration", err)
	}
	if len(got) != 0 {
		t.Errorf("resolved %d triples before failing", len(got))
	}
}

func TestResolveStreamChunkOrder(t *testing.T) {
	chunks := chunksOf("One.", "Two.")
	chunks[0].ID, chunks[1].ID = 5, 3
	_, _, err := ResolveStream(context.Background(), chunks, nil, DefaultOptions())
	if !errors.Is(err, ErrOutOfOrderRegistration) {
		t.Fatalf("err = %v, want ErrOutOfOrderRegistration", err)
	}
}

func TestResolveStreamCanceled(t *testing.T) {
	chunks, triples := streamInput()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, _, err := ResolveStream(ctx, chunks, triples, DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d results after cancellation", len(got))
	}
}

func TestSummary(t *testing.T) {
	var s Summary
	for _, typ := range []Type{SingleSentence, SingleSentence, MultiSentence, Unresolved} {
		s.Add(typ)
	}
	if s.Count(SingleSentence) != 2 || s.Count(MultiSentence) != 1 || s.Count(CrossChunk) != 0 || s.Count(Unresolved) != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Total != 4 {
		t.Errorf("total = %d, want 4", s.Total)
	}
	if got := s.ResolvedRatio(); got != 0.75 {
		t.Errorf("resolved ratio = %v, want 0.75", got)
	}
}
