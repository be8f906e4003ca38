// Package tool exposes provenance resolution as MCP tools, so an
// extraction agent can ask for the source span of the triples it produced
// without a database.
package tool

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/segment"
	"github.com/brunobiangulo/goprov/span"
)

// MetadataResolveTriples describes the resolve_triples tool.
var MetadataResolveTriples = &mcp.Tool{
	Name: "resolve_triples",
	Description: "Locate the source span of extracted (subject, predicate, object) triples. " +
		"Chunks must be given in document order with their document offsets. " +
		"Each span is single_sentence, multi_sentence, cross_chunk or unresolved, " +
		"with the evidence text, a confidence in [0,1], entity positions and a " +
		"document reference usable for highlighting.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"chunks", "triples"},
		"properties": map[string]interface{}{
			"chunks": map[string]interface{}{
				"type":        "array",
				"description": "Ordered chunks: chunk_id, text, document_offset_start, document_offset_end, page_number, section, element_ref",
				"items":       map[string]interface{}{"type": "object"},
			},
			"triples": map[string]interface{}{
				"type":        "array",
				"description": "Triples: subject, predicate, object, chunk_id",
				"items":       map[string]interface{}{"type": "object"},
			},
			"max_sentence_distance": map[string]interface{}{
				"type":        "integer",
				"description": "Largest sentence gap for a multi_sentence span (default 3)",
			},
		},
	},
}

// InputResolveTriples is the input for the ResolveTriples tool.
type InputResolveTriples struct {
	Chunks              []document.Chunk  `json:"chunks"`
	Triples             []document.Triple `json:"triples"`
	MaxSentenceDistance int               `json:"max_sentence_distance,omitempty"`
}

// OutputResolveTriples is the output for the ResolveTriples tool.
type OutputResolveTriples struct {
	Spans   []span.Resolved `json:"spans"`
	Summary span.Summary    `json:"summary"`
}

// Resolver resolves tool calls with fixed options.
type Resolver struct {
	Options     span.Options
	Concurrency int
}

// ResolveTriples runs a span stream over the chunks of the request.
func (r Resolver) ResolveTriples(ctx context.Context, _ *mcp.CallToolRequest, input InputResolveTriples) (*mcp.CallToolResult, OutputResolveTriples, error) {
	if len(input.Chunks) == 0 {
		return nil, OutputResolveTriples{}, fmt.Errorf("chunks are required")
	}
	opts := r.Options
	if input.MaxSentenceDistance > 0 {
		opts.MaxSentenceDistance = input.MaxSentenceDistance
	}

	st := span.Stream{Options: opts, Concurrency: r.Concurrency}
	resolved, summary, err := st.Run(ctx, input.Chunks, input.Triples)
	if err != nil {
		return nil, OutputResolveTriples{}, err
	}
	if resolved == nil {
		resolved = []span.Resolved{}
	}
	return nil, OutputResolveTriples{Spans: resolved, Summary: summary}, nil
}

// MetadataSegmentChunk describes the segment_chunk tool.
var MetadataSegmentChunk = &mcp.Tool{
	Name: "segment_chunk",
	Description: "Split chunk text into sentences with byte offsets into the chunk and " +
		"into the document. Abbreviations, initials and decimals do not end a sentence.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"text"},
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Chunk text",
			},
			"document_offset_start": map[string]interface{}{
				"type":        "integer",
				"description": "Offset of the chunk in the document (default 0)",
			},
		},
	},
}

// InputSegmentChunk is the input for the SegmentChunk tool.
type InputSegmentChunk struct {
	Text                string `json:"text"`
	DocumentOffsetStart int    `json:"document_offset_start,omitempty"`
}

// OutputSegmentChunk is the output for the SegmentChunk tool.
type OutputSegmentChunk struct {
	Sentences []document.Sentence `json:"sentences"`
}

// SegmentChunk splits one chunk into sentences.
func SegmentChunk(ctx context.Context, _ *mcp.CallToolRequest, input InputSegmentChunk) (*mcp.CallToolResult, OutputSegmentChunk, error) {
	if input.Text == "" {
		return nil, OutputSegmentChunk{}, fmt.Errorf("text is required")
	}
	sentences := segment.Segment(document.Chunk{
		Text:                input.Text,
		DocumentOffsetStart: input.DocumentOffsetStart,
		DocumentOffsetEnd:   input.DocumentOffsetStart + len(input.Text),
	})
	if sentences == nil {
		sentences = []document.Sentence{}
	}
	return nil, OutputSegmentChunk{Sentences: sentences}, nil
}

// NewServer returns an MCP server with the resolution tools registered.
func NewServer(version string, r Resolver) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "goprov", Version: version}, nil)
	mcp.AddTool(server, MetadataResolveTriples, r.ResolveTriples)
	mcp.AddTool(server, MetadataSegmentChunk, SegmentChunk)
	return server
}
