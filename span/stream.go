package span

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/segment"
)

// Summary counts the spans of one document by type. It is the data-quality
// report of a resolution run.
type Summary struct {
	SingleSentence int `json:"single_sentence"`
	MultiSentence  int `json:"multi_sentence"`
	CrossChunk     int `json:"cross_chunk"`
	Unresolved     int `json:"unresolved"`
	Total          int `json:"total"`
}

// Add counts one span of type t.
func (s *Summary) Add(t Type) {
	switch t {
	case SingleSentence:
		s.SingleSentence++
	case MultiSentence:
		s.MultiSentence++
	case CrossChunk:
		s.CrossChunk++
	default:
		s.Unresolved++
	}
	s.Total++
}

// Count returns the number of spans of type t.
func (s Summary) Count(t Type) int {
	switch t {
	case SingleSentence:
		return s.SingleSentence
	case MultiSentence:
		return s.MultiSentence
	case CrossChunk:
		return s.CrossChunk
	case Unresolved:
		return s.Unresolved
	}
	return 0
}

// ResolvedRatio is the share of spans that found evidence.
func (s Summary) ResolvedRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Total-s.Unresolved) / float64(s.Total)
}

// Summarize counts spans by type.
func Summarize(spans []SourceSpan) Summary {
	var s Summary
	for _, sp := range spans {
		s.Add(sp.Type)
	}
	return s
}

// SegmentFunc splits a chunk into sentences.
type SegmentFunc func(document.Chunk) []document.Sentence

// Stream resolves all triples of one document. Chunks are registered with
// a fresh Tracker strictly in order; the triples of a chunk are resolved
// after its registration, up to Concurrency at a time.
type Stream struct {
	Options Options
	// Segment defaults to segment.Segment.
	Segment SegmentFunc
	// Concurrency bounds parallel resolution within a chunk. Values below
	// one resolve sequentially.
	Concurrency int
}

// ResolveStream resolves triples against chunks sequentially with opts.
func ResolveStream(ctx context.Context, chunks []document.Chunk, triples []document.Triple, opts Options) ([]Resolved, Summary, error) {
	return Stream{Options: opts}.Run(ctx, chunks, triples)
}

// Run validates the input, then walks the chunks in order. Output is
// ordered by chunk, then by the input order of the triples, and is the
// same on every run over the same input. Every triple must reference a
// chunk in chunks; otherwise nothing is resolved and an error matching
// both ErrUnknownChunk and ErrOutOfOrderRegistration is returned. Cancellation is checked between chunks; on cancellation the
// spans of the chunks already finished are returned with ctx.Err().
func (st Stream) Run(ctx context.Context, chunks []document.Chunk, triples []document.Triple) ([]Resolved, Summary, error) {
	var summary Summary

	byChunk := make(map[int][]document.Triple, len(chunks))
	known := make(map[int]bool, len(chunks))
	for i, c := range chunks {
		if i > 0 && c.ID <= chunks[i-1].ID {
			return nil, summary, fmt.Errorf("%w: chunk %d follows chunk %d", ErrOutOfOrderRegistration, c.ID, chunks[i-1].ID)
		}
		known[c.ID] = true
	}
	for _, t := range triples {
		if !known[t.ChunkID] {
			return nil, summary, fmt.Errorf("%w (%w): chunk %d (%s %s %s)", ErrUnknownChunk, ErrOutOfOrderRegistration, t.ChunkID, t.Subject, t.Predicate, t.Object)
		}
		byChunk[t.ChunkID] = append(byChunk[t.ChunkID], t)
	}

	segmentFn := st.Segment
	if segmentFn == nil {
		segmentFn = segment.Segment
	}
	tracker := NewTracker(st.Options)
	resolver := New(st.Options, tracker)

	start := time.Now()
	out := make([]Resolved, 0, len(triples))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return out, summary, err
		}
		sentences := segmentFn(c)
		if err := tracker.Register(c, sentences); err != nil {
			return out, summary, err
		}

		pending := byChunk[c.ID]
		if len(pending) == 0 {
			continue
		}
		spans, err := st.resolveChunk(resolver, c, sentences, pending)
		if err != nil {
			return out, summary, err
		}
		for i, t := range pending {
			out = append(out, Resolved{Triple: t, Span: spans[i]})
			summary.Add(spans[i].Type)
		}
	}

	slog.Info("span: document resolved",
		"chunks", len(chunks), "triples", len(triples),
		"single_sentence", summary.SingleSentence, "multi_sentence", summary.MultiSentence,
		"cross_chunk", summary.CrossChunk, "unresolved", summary.Unresolved,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return out, summary, nil
}

// resolveChunk resolves the triples of one registered chunk. Results are
// written by index, so their order does not depend on scheduling.
func (st Stream) resolveChunk(r *Resolver, c document.Chunk, sentences []document.Sentence, triples []document.Triple) ([]SourceSpan, error) {
	spans := make([]SourceSpan, len(triples))
	if st.Concurrency <= 1 || len(triples) == 1 {
		for i, t := range triples {
			s, err := r.Resolve(t, c, sentences)
			if err != nil {
				return nil, err
			}
			spans[i] = s
		}
		return spans, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		sem      = make(chan struct{}, st.Concurrency)
	)
	for i, t := range triples {
		wg.Add(1)
		go func(i int, t document.Triple) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			s, err := r.Resolve(t, c, sentences)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			spans[i] = s
		}(i, t)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return spans, nil
}
