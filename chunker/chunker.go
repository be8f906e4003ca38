// Package chunker converts parsed sections into ordered chunks whose
// offsets index the document text rebuilt from those chunks.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/parser"
	"github.com/brunobiangulo/goprov/segment"
	"github.com/brunobiangulo/goprov/store"
)

// Separator joins consecutive chunk texts in the document text.
const Separator = "\n\n"

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum estimated tokens per chunk.
}

// Chunker converts parsed document sections into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Chunker{cfg: cfg}
}

// Chunk converts parsed sections into store chunks. Seq is the 0-based
// position of the chunk and doubles as the chunk ID triples refer to.
// Fragments never overlap, so every chunk text appears exactly once in
// the document text at [DocOffsetStart, DocOffsetEnd). DocumentID is left
// for the caller.
func (c *Chunker) Chunk(sections []parser.Section) []store.Chunk {
	var chunks []store.Chunk
	offset := 0
	for _, sec := range sections {
		meta := marshalMeta(sectionMeta(sec))
		for _, frag := range c.splitContent(sec.Content) {
			if len(chunks) > 0 {
				offset += len(Separator)
			}
			chunks = append(chunks, store.Chunk{
				Seq:            len(chunks),
				Content:        frag,
				ChunkType:      chunkTypeFromSection(sec),
				Heading:        sec.Heading,
				PageNumber:     sec.PageNumber,
				ElementRef:     sec.ElementRef,
				DocOffsetStart: offset,
				DocOffsetEnd:   offset + len(frag),
				TokenCount:     estimateTokens(frag),
				Metadata:       meta,
				ContentHash:    contentHash(frag),
			})
			offset += len(frag)
		}
	}
	return chunks
}

// DocumentText rebuilds the document text the chunk offsets index into.
func DocumentText(chunks []document.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// splitContent breaks a long text into fragments that each fit within
// MaxTokens, splitting at paragraph and then sentence boundaries. Every
// fragment is a slice of the trimmed text, so internal whitespace is kept.
func (c *Chunker) splitContent(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if estimateTokens(text) <= c.cfg.MaxTokens {
		return []string{text}
	}

	var fragments []string
	for _, g := range c.group(text, paragraphBounds(text)) {
		para := text[g.Start:g.End]
		if estimateTokens(para) <= c.cfg.MaxTokens {
			fragments = append(fragments, para)
			continue
		}
		// A single paragraph over budget is split by sentences. A sentence
		// over budget stays whole.
		for _, s := range c.group(para, segment.Bounds(para)) {
			fragments = append(fragments, para[s.Start:s.End])
		}
	}
	return fragments
}

// group merges consecutive ranges of text while the merged range stays
// within MaxTokens.
func (c *Chunker) group(text string, bounds []segment.Bound) []segment.Bound {
	var out []segment.Bound
	for _, b := range bounds {
		if n := len(out); n > 0 {
			last := out[n-1]
			if estimateTokens(text[last.Start:b.End]) <= c.cfg.MaxTokens {
				out[n-1].End = b.End
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// paragraphBounds returns the trimmed ranges of text separated by blank
// lines.
func paragraphBounds(text string) []segment.Bound {
	var out []segment.Bound
	start := -1
	end := 0
	pos := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		lineStart := pos
		pos += len(line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if start >= 0 {
				out = append(out, segment.Bound{Start: start, End: end})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = lineStart + strings.Index(line, trimmed)
		}
		end = lineStart + strings.Index(line, trimmed) + len(trimmed)
	}
	if start >= 0 {
		out = append(out, segment.Bound{Start: start, End: end})
	}
	return out
}

// estimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// chunkTypeFromSection maps a section type to a chunk type string.
func chunkTypeFromSection(sec parser.Section) string {
	switch sec.Type {
	case parser.TypeTable, parser.TypePicture, parser.TypeList, parser.TypeParagraph:
		return sec.Type
	default:
		return parser.TypeSection
	}
}

func sectionMeta(sec parser.Section) map[string]string {
	if sec.Label == "" {
		return sec.Metadata
	}
	m := make(map[string]string, len(sec.Metadata)+1)
	for k, v := range sec.Metadata {
		m[k] = v
	}
	m["label"] = sec.Label
	return m
}

// contentHash returns the SHA-256 hex digest of text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// marshalMeta serialises a metadata map to a JSON string.
// Returns "{}" for nil or empty maps.
func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
