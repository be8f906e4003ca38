// Package span resolves extracted triples to the text that justifies them.
//
// A Resolver looks for the subject and object of a triple inside the
// sentences of the chunk the triple was extracted from. When one of them
// is missing, the caller-owned Tracker, which remembers the last few chunks
// of the document, is asked for a cross-chunk pairing. Every triple yields
// exactly one SourceSpan; failing to find evidence is reported as an
// unresolved span, never as an error.
package span

import (
	"errors"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/locate"
)

// Errors returned for caller contract violations. Data-quality problems
// never produce errors.
var (
	ErrOutOfOrderRegistration = errors.New("span: chunk not registered in document order")
	ErrUnknownChunk           = errors.New("span: triple references unknown chunk")
	ErrChunkMismatch          = errors.New("span: triple attributed to a different chunk")
)

// Type classifies how a span justifies its triple.
type Type string

const (
	SingleSentence Type = "single_sentence"
	MultiSentence  Type = "multi_sentence"
	CrossChunk     Type = "cross_chunk"
	Unresolved     Type = "unresolved"
)

// Types lists every span type in reporting order.
var Types = []Type{SingleSentence, MultiSentence, CrossChunk, Unresolved}

// Valid reports whether t is one of the known span types.
func (t Type) Valid() bool {
	switch t {
	case SingleSentence, MultiSentence, CrossChunk, Unresolved:
		return true
	}
	return false
}

// SourceSpan is the provenance record of one triple.
type SourceSpan struct {
	Type             Type                      `json:"span_type"`
	TextEvidence     string                    `json:"text_evidence"`
	Confidence       float64                   `json:"confidence"`
	DocumentRef      string                    `json:"document_ref"`
	SubjectPositions []locate.EntityOccurrence `json:"subject_positions"`
	ObjectPositions  []locate.EntityOccurrence `json:"object_positions"`

	// ChunkIDs and PageNumbers list, ascending, the chunks and pages the
	// evidence was drawn from.
	ChunkIDs    []int `json:"chunk_ids"`
	PageNumbers []int `json:"page_numbers"`
	// DocumentStart and DocumentEnd bound the evidence in the full
	// document text. For cross-chunk spans they cover both sentences and
	// everything between them.
	DocumentStart int `json:"document_start"`
	DocumentEnd   int `json:"document_end"`
}

// unresolvedSpan is the universal fallback.
func unresolvedSpan() SourceSpan {
	return SourceSpan{
		Type:             Unresolved,
		SubjectPositions: []locate.EntityOccurrence{},
		ObjectPositions:  []locate.EntityOccurrence{},
		ChunkIDs:         []int{},
		PageNumbers:      []int{},
	}
}

// Resolved pairs a triple with its span.
type Resolved struct {
	Triple document.Triple `json:"triple"`
	Span   SourceSpan      `json:"source_span"`
}

// Options tunes resolution. Zero fields take the defaults of
// DefaultOptions.
type Options struct {
	// MaxSentenceDistance is how many sentences apart subject and object
	// may be for a multi-sentence span.
	MaxSentenceDistance int `json:"max_sentence_distance" yaml:"max_sentence_distance"`
	// WindowSize is the number of chunks the Tracker remembers, counting
	// the chunk being resolved: a window of 5 reaches 4 prior chunks.
	WindowSize int `json:"window_size" yaml:"window_size"`
	// RelaxedWindow bounds the word window of relaxed entity matches.
	RelaxedWindow int `json:"relaxed_window" yaml:"relaxed_window"`

	// Base confidence per span type. A span's confidence is its base
	// multiplied by the weakest entity match, so a single-sentence span
	// built on a relaxed match scores between 0.5 and 0.9 rather than 1.0.
	// Only exact matches on both sides reach the base value.
	SingleSentenceConfidence float64 `json:"single_sentence_confidence" yaml:"single_sentence_confidence"`
	MultiSentenceConfidence  float64 `json:"multi_sentence_confidence" yaml:"multi_sentence_confidence"`
	CrossChunkConfidence     float64 `json:"cross_chunk_confidence" yaml:"cross_chunk_confidence"`
}

// Defaults.
const (
	DefaultMaxSentenceDistance      = 3
	DefaultWindowSize               = 5
	DefaultSingleSentenceConfidence = 1.0
	DefaultMultiSentenceConfidence  = 0.8
	DefaultCrossChunkConfidence     = 0.5
)

// DefaultOptions returns the stock resolution settings.
func DefaultOptions() Options {
	return Options{
		MaxSentenceDistance:      DefaultMaxSentenceDistance,
		WindowSize:               DefaultWindowSize,
		RelaxedWindow:            locate.DefaultRelaxedWindow,
		SingleSentenceConfidence: DefaultSingleSentenceConfidence,
		MultiSentenceConfidence:  DefaultMultiSentenceConfidence,
		CrossChunkConfidence:     DefaultCrossChunkConfidence,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxSentenceDistance <= 0 {
		o.MaxSentenceDistance = d.MaxSentenceDistance
	}
	if o.WindowSize <= 0 {
		o.WindowSize = d.WindowSize
	}
	if o.RelaxedWindow <= 0 {
		o.RelaxedWindow = d.RelaxedWindow
	}
	if o.SingleSentenceConfidence <= 0 {
		o.SingleSentenceConfidence = d.SingleSentenceConfidence
	}
	if o.MultiSentenceConfidence <= 0 {
		o.MultiSentenceConfidence = d.MultiSentenceConfidence
	}
	if o.CrossChunkConfidence <= 0 {
		o.CrossChunkConfidence = d.CrossChunkConfidence
	}
	return o
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
