package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXParser reads word/document.xml. Body paragraphs and tables are kept
// in document order; heading-styled paragraphs label the sections after
// them.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := readZipEntry(path, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}

	sections, err := parseDocxXML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no text found in DOCX")
	}
	AssignRefs(sections)

	return &ParseResult{
		Sections: sections,
		Method:   "native",
	}, nil
}

// readZipEntry returns the content of one file of a zip archive.
func readZipEntry(path, name string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}

// DOCX XML structures (simplified)
type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

// docxBody keeps paragraphs and tables interleaved as they appear.
type docxBody struct {
	Blocks []docxBlock `xml:",any"`
}

// docxBlock is a w:p or a w:tbl, told apart by XMLName.
type docxBlock struct {
	XMLName xml.Name
	PPr     *docxParaPr `xml:"pPr"`
	Runs    []docxRun   `xml:"r"`
	Rows    []docxRow   `xml:"tr"`
}

type docxPara struct {
	PPr  *docxParaPr `xml:"pPr"`
	Runs []docxRun   `xml:"r"`
}

type docxParaPr struct {
	PStyle *docxPStyle `xml:"pStyle"`
}

type docxPStyle struct {
	Val string `xml:"val,attr"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

func parseDocxXML(data []byte) ([]Section, error) {
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var sections []Section
	heading := ""
	level := 0

	for _, b := range doc.Body.Blocks {
		switch b.XMLName.Local {
		case "p":
			text := strings.TrimSpace(runText(b.Runs))
			if text == "" {
				continue
			}
			style := ""
			if b.PPr != nil && b.PPr.PStyle != nil {
				style = strings.ToLower(b.PPr.PStyle.Val)
			}
			if strings.HasPrefix(style, "heading") || strings.HasPrefix(style, "title") {
				heading = text
				level = headingStyleLevel(style)
				continue
			}
			typ := TypeParagraph
			if strings.Contains(style, "list") {
				typ = TypeList
			}
			sections = append(sections, Section{
				Heading:    heading,
				Content:    text,
				Level:      level,
				PageNumber: 1,
				Type:       typ,
				Label:      style,
			})
		case "tbl":
			content := docxTableText(b.Rows)
			if content == "" {
				continue
			}
			sections = append(sections, Section{
				Heading:    heading,
				Content:    content,
				Level:      level,
				PageNumber: 1,
				Type:       TypeTable,
			})
		}
	}
	return sections, nil
}

// docxTableText renders rows as pipe-delimited lines.
func docxTableText(rows []docxRow) string {
	var lines []string
	for _, row := range rows {
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			parts := make([]string, 0, len(cell.Paras))
			for _, p := range cell.Paras {
				if t := strings.TrimSpace(runText(p.Runs)); t != "" {
					parts = append(parts, t)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

func runText(runs []docxRun) string {
	var b strings.Builder
	for _, run := range runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}

func headingStyleLevel(style string) int {
	lower := strings.ToLower(style)
	if strings.Contains(lower, "title") {
		return 1
	}
	// Extract number from "Heading1", "Heading2", etc.
	for i := 1; i <= 9; i++ {
		if strings.Contains(lower, itoa(i)) {
			return i
		}
	}
	return 1
}
