package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/brunobiangulo/goprov/docref"
)

// DoclingParser reads the JSON export of a DoclingDocument. Element
// references, pages and bounding boxes are taken from the export as is, so
// a document_ref produced from these sections resolves against the same
// document in any Docling-aware viewer.
type DoclingParser struct{}

func (p *DoclingParser) SupportedFormats() []string { return []string{"json"} }

type doclingRef struct {
	Ref string `json:"$ref"`
}

type doclingProv struct {
	PageNo int `json:"page_no"`
	BBox   struct {
		L           float64 `json:"l"`
		T           float64 `json:"t"`
		R           float64 `json:"r"`
		B           float64 `json:"b"`
		CoordOrigin string  `json:"coord_origin"`
	} `json:"bbox"`
}

type doclingNode struct {
	SelfRef  string        `json:"self_ref"`
	Label    string        `json:"label"`
	Text     string        `json:"text"`
	Level    int           `json:"level"`
	Children []doclingRef  `json:"children"`
	Captions []doclingRef  `json:"captions"`
	Prov     []doclingProv `json:"prov"`
	Data     *struct {
		NumRows int `json:"num_rows"`
		NumCols int `json:"num_cols"`
		Cells   []struct {
			Text string `json:"text"`
			Row  int    `json:"start_row_offset_idx"`
			Col  int    `json:"start_col_offset_idx"`
		} `json:"table_cells"`
	} `json:"data"`
}

type doclingDocument struct {
	SchemaName string        `json:"schema_name"`
	Name       string        `json:"name"`
	Body       doclingNode   `json:"body"`
	Groups     []doclingNode `json:"groups"`
	Texts      []doclingNode `json:"texts"`
	Pictures   []doclingNode `json:"pictures"`
	Tables     []doclingNode `json:"tables"`
}

// furniture labels are page decoration, not content.
var furniture = map[string]bool{"page_header": true, "page_footer": true}

func (p *DoclingParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading docling export: %w", err)
	}
	var doc doclingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding docling export: %w", err)
	}
	if doc.SchemaName != "" && doc.SchemaName != "DoclingDocument" {
		return nil, fmt.Errorf("unsupported docling schema %q", doc.SchemaName)
	}

	w := &doclingWalker{doc: &doc, captions: map[string]bool{}, seen: map[string]bool{}}
	for _, coll := range [][]doclingNode{doc.Pictures, doc.Tables} {
		for _, n := range coll {
			for _, c := range n.Captions {
				w.captions[docref.Normalize(c.Ref)] = true
			}
		}
	}
	w.walk(ctx, doc.Body.Children)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(w.sections) == 0 {
		return nil, fmt.Errorf("no content in docling export %s", path)
	}

	return &ParseResult{
		Sections: w.sections,
		Method:   "docling",
		Metadata: map[string]string{"name": doc.Name},
	}, nil
}

type doclingWalker struct {
	doc      *doclingDocument
	captions map[string]bool // text refs owned by a picture or table
	seen     map[string]bool
	heading  string
	level    int
	sections []Section
}

func (w *doclingWalker) walk(ctx context.Context, children []doclingRef) {
	for _, c := range children {
		if ctx.Err() != nil {
			return
		}
		ref, err := docref.Parse(c.Ref)
		if err != nil {
			continue
		}
		key := ref.String()
		if w.seen[key] {
			continue
		}
		w.seen[key] = true

		node, ok := w.node(ref)
		if !ok {
			continue
		}
		switch ref.Kind {
		case docref.KindGroup:
			w.walk(ctx, node.Children)
		case docref.KindText:
			w.text(key, node)
			w.walk(ctx, node.Children)
		case docref.KindTable:
			w.add(key, node, TypeTable, joinNonEmpty(w.captionText(node), tableText(node)))
		case docref.KindPicture:
			w.add(key, node, TypePicture, w.captionText(node))
		}
	}
}

func (w *doclingWalker) node(ref docref.Ref) (doclingNode, bool) {
	var coll []doclingNode
	switch ref.Kind {
	case docref.KindGroup:
		coll = w.doc.Groups
	case docref.KindText:
		coll = w.doc.Texts
	case docref.KindTable:
		coll = w.doc.Tables
	case docref.KindPicture:
		coll = w.doc.Pictures
	}
	if ref.Index >= len(coll) {
		return doclingNode{}, false
	}
	return coll[ref.Index], true
}

func (w *doclingWalker) text(key string, n doclingNode) {
	if furniture[n.Label] || w.captions[key] {
		return
	}
	switch n.Label {
	case "title", "section_header":
		w.heading = strings.TrimSpace(n.Text)
		w.level = n.Level
		if w.level == 0 {
			w.level = 1
		}
		return
	}
	typ := TypeParagraph
	if n.Label == "list_item" {
		typ = TypeList
	}
	w.add(key, n, typ, n.Text)
}

func (w *doclingWalker) add(key string, n doclingNode, typ, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s := Section{
		Heading:    w.heading,
		Content:    content,
		Level:      w.level,
		Type:       typ,
		ElementRef: key,
		Label:      n.Label,
	}
	if len(n.Prov) > 0 {
		pr := n.Prov[0]
		s.PageNumber = pr.PageNo
		s.BBox = &docref.BBox{Left: pr.BBox.L, Top: pr.BBox.T, Right: pr.BBox.R, Bottom: pr.BBox.B}
	}
	w.sections = append(w.sections, s)
}

func (w *doclingWalker) captionText(n doclingNode) string {
	var parts []string
	for _, c := range n.Captions {
		ref, err := docref.Parse(c.Ref)
		if err != nil || ref.Kind != docref.KindText {
			continue
		}
		if cn, ok := w.node(ref); ok && strings.TrimSpace(cn.Text) != "" {
			parts = append(parts, strings.TrimSpace(cn.Text))
		}
	}
	return strings.Join(parts, " ")
}

// tableText renders table cells as pipe-delimited rows.
func tableText(n doclingNode) string {
	if n.Data == nil || len(n.Data.Cells) == 0 {
		return ""
	}
	cells := n.Data.Cells
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
	var b strings.Builder
	row := cells[0].Row
	b.WriteString("|")
	for _, c := range cells {
		if c.Row != row {
			b.WriteString("\n|")
			row = c.Row
		}
		b.WriteString(" " + strings.TrimSpace(c.Text) + " |")
	}
	return b.String()
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
