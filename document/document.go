// Package document defines the records exchanged between the ingestion
// pipeline, the extraction step and the provenance resolver. Nothing here
// knows which parser produced a chunk.
package document

import "strings"

// Chunk is a contiguous unit of document text, produced once during
// ingestion and read-only afterwards.
type Chunk struct {
	ID                  int    `json:"chunk_id"`
	Text                string `json:"text"`
	DocumentOffsetStart int    `json:"document_offset_start"`
	DocumentOffsetEnd   int    `json:"document_offset_end"`
	PageNumber          int    `json:"page_number"`
	Section             string `json:"section"`
	ElementRef          string `json:"element_ref"`
}

// Valid reports whether the chunk carries usable text and sane offsets.
// Invalid chunks are still accepted by the resolver; they just segment to
// nothing.
func (c Chunk) Valid() bool {
	if strings.TrimSpace(c.Text) == "" {
		return false
	}
	return c.DocumentOffsetStart >= 0 && c.DocumentOffsetEnd >= c.DocumentOffsetStart
}

// Sentence is a span of a chunk delimited by sentence-ending punctuation.
// Start and End are byte offsets into Chunk.Text; DocumentStart and
// DocumentEnd are the same span shifted by the chunk's document offset.
type Sentence struct {
	ID            int    `json:"sentence_id"`
	Text          string `json:"text"`
	Start         int    `json:"start_offset"`
	End           int    `json:"end_offset"`
	DocumentStart int    `json:"document_start"`
	DocumentEnd   int    `json:"document_end"`
}

// Triple is an extracted (subject, predicate, object) fact attributed to
// the chunk it was extracted from.
type Triple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	ChunkID   int    `json:"chunk_id"`
}
