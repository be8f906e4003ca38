package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser handles plain text (.txt, .md) files. Each blank-line
// separated paragraph becomes one text element; a markdown "#" line sets
// the heading of the paragraphs after it.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	sections := splitParagraphs(string(data), filepath.Base(path))
	AssignRefs(sections)
	return &ParseResult{
		Sections: sections,
		Method:   "native",
	}, nil
}

func splitParagraphs(content, defaultHeading string) []Section {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	heading := defaultHeading
	level := 1

	var sections []Section
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if h, lvl, ok := markdownHeading(para); ok {
			heading, level = h, lvl
			continue
		}
		sections = append(sections, Section{
			Heading:    heading,
			Content:    para,
			Level:      level,
			PageNumber: 1,
			Type:       TypeParagraph,
		})
	}
	return sections
}

// markdownHeading recognizes a single-line "## Heading" paragraph.
func markdownHeading(para string) (string, int, bool) {
	if strings.Contains(para, "\n") || !strings.HasPrefix(para, "#") {
		return "", 0, false
	}
	level := len(para) - len(strings.TrimLeft(para, "#"))
	text := strings.TrimSpace(para[level:])
	if text == "" || level > 6 {
		return "", 0, false
	}
	return text, level, true
}
