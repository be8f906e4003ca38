// Package parser turns document files into ordered sections, each tied to
// the structural element it came from. The resolver never sees parser
// output directly; the chunker converts sections into document.Chunks.
package parser

import (
	"context"
	"strconv"

	"github.com/brunobiangulo/goprov/docref"
)

// Section types.
const (
	TypeSection   = "section"
	TypeParagraph = "paragraph"
	TypeTable     = "table"
	TypePicture   = "picture"
	TypeList      = "list"
)

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section // Ordered sections extracted from the document
	Method   string    // "native", "docling"
	Metadata map[string]string
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // Heading level (1=top, 2=sub, etc.)
	PageNumber int
	Type       string // "section", "paragraph", "table", "picture", "list"
	ElementRef string // e.g. "#/texts/4"; assigned by AssignRefs when empty
	Label      string // source element label, e.g. "section_header", "caption"
	BBox       *docref.BBox
	Metadata   map[string]string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// Index returns the structural element index of the parsed document.
func (r *ParseResult) Index() *docref.Index {
	return docref.NewIndex(r.Elements()...)
}

// Elements returns one element per section that carries a reference.
func (r *ParseResult) Elements() []docref.Element {
	out := make([]docref.Element, 0, len(r.Sections))
	for _, s := range r.Sections {
		if s.ElementRef == "" {
			continue
		}
		label := s.Label
		if label == "" {
			label = s.Type
		}
		out = append(out, docref.Element{
			Ref:        s.ElementRef,
			Label:      label,
			PageNumber: s.PageNumber,
			BBox:       s.BBox,
			Text:       s.Content,
		})
	}
	return out
}

// AssignRefs numbers sections without an element reference in document
// order, one counter per element kind, the way Docling numbers its texts,
// tables and pictures.
func AssignRefs(sections []Section) {
	counters := map[docref.Kind]int{}
	for i := range sections {
		if sections[i].ElementRef != "" {
			continue
		}
		kind := kindOf(sections[i].Type)
		sections[i].ElementRef = docref.New(kind, counters[kind]).String()
		counters[kind]++
	}
}

func kindOf(sectionType string) docref.Kind {
	switch sectionType {
	case TypeTable:
		return docref.KindTable
	case TypePicture:
		return docref.KindPicture
	}
	return docref.KindText
}

func itoa(n int) string { return strconv.Itoa(n) }
