package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts per-page plain text and splits it into sections at
// lines that look like headings. It has no layout model, so sections carry
// no bounding boxes; use a Docling JSON export when highlighting needs them.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	sections := make([]Section, 0)
	heading := ""

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("parser: skipping unreadable pdf page", "path", path, "page", i, "error", err)
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		// Headings carry across page breaks.
		var pageSections []Section
		pageSections, heading = splitPageIntoSections(text, i, heading)
		sections = append(sections, pageSections...)
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no extractable text in PDF %s", path)
	}

	AssignRefs(sections)
	return &ParseResult{
		Sections: sections,
		Method:   "native",
		Metadata: map[string]string{"pages": itoa(totalPages)},
	}, nil
}

// splitPageIntoSections breaks page text into logical sections. heading is
// the heading in effect when the page starts; the heading in effect at the
// end of the page is returned with the sections.
func splitPageIntoSections(text string, pageNum int, heading string) ([]Section, string) {
	lines := strings.Split(text, "\n")
	var sections []Section
	var currentContent strings.Builder
	currentHeading := heading
	currentLevel := 0
	if heading != "" {
		currentLevel = detectHeadingLevel(heading)
	}

	flush := func() {
		content := strings.TrimSpace(currentContent.String())
		currentContent.Reset()
		if content == "" {
			return
		}
		sections = append(sections, Section{
			Heading:    currentHeading,
			Content:    content,
			Level:      currentLevel,
			PageNumber: pageNum,
			Type:       classifySectionType(currentHeading, content),
		})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			continue
		}

		switch {
		case isCaption(trimmed):
			// Figure and table captions are elements of their own.
			flush()
			sections = append(sections, Section{
				Heading:    currentHeading,
				Content:    trimmed,
				Level:      currentLevel,
				PageNumber: pageNum,
				Type:       captionType(trimmed),
				Label:      "caption",
			})
		case isLikelyHeading(trimmed):
			flush()
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
		default:
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			currentContent.WriteString(trimmed)
		}
	}
	flush()

	return sections, currentHeading
}

// scientificHeadings are the usual top-level sections of a paper.
var scientificHeadings = map[string]bool{
	"abstract": true, "introduction": true, "background": true,
	"methods": true, "materials and methods": true, "methods and materials": true,
	"experimental procedures": true, "results": true, "discussion": true,
	"results and discussion": true, "conclusion": true, "conclusions": true,
	"acknowledgements": true, "acknowledgments": true, "references": true,
	"supplementary material": true, "supplementary information": true,
}

func isLikelyHeading(line string) bool {
	if len(line) >= 120 {
		return false
	}
	lower := strings.ToLower(strings.TrimRight(line, ".:"))
	if scientificHeadings[lower] {
		return true
	}
	// All caps and short
	if len(line) < 100 && len(line) > 2 && line == strings.ToUpper(line) && strings.ToLower(line) != line {
		return true
	}
	// Numbered section like "1. Introduction", "2.3 Growth conditions"
	if line[0] >= '1' && line[0] <= '9' {
		num, rest, ok := strings.Cut(line, " ")
		if ok && strings.Contains(num, ".") && strings.Trim(num, "0123456789.") == "" &&
			rest != "" && !strings.HasSuffix(rest, ".") && len(rest) < 80 {
			return true
		}
	}
	for _, prefix := range []string{"section ", "chapter ", "appendix "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isCaption matches "Figure 2.", "Fig. 3:", "Table 1 " style caption lines.
func isCaption(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range []string{"figure ", "fig. ", "table "} {
		if strings.HasPrefix(lower, prefix) && len(lower) > len(prefix) &&
			lower[len(prefix)] >= '0' && lower[len(prefix)] <= '9' {
			return true
		}
	}
	return false
}

func captionType(line string) string {
	if strings.HasPrefix(strings.ToLower(line), "table ") {
		return TypeTable
	}
	return TypePicture
}

func detectHeadingLevel(heading string) int {
	// Count dots in numbering to determine depth
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		num := strings.TrimRight(parts[0], ".")
		if num != "" && strings.Trim(num, "0123456789.") == "" {
			return strings.Count(num, ".") + 1
		}
	}
	return 1
}

func classifySectionType(heading, content string) string {
	headingLower := strings.ToLower(heading)
	if strings.HasPrefix(headingLower, "table ") {
		return TypeTable
	}
	// Structural table detection via content: tabs/pipes indicate actual table formatting
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return TypeTable
	}
	lines := strings.Split(content, "\n")
	bullets := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "- ") || strings.HasPrefix(l, "• ") || strings.HasPrefix(l, "* ") {
			bullets++
		}
	}
	if len(lines) > 1 && bullets == len(lines) {
		return TypeList
	}
	return TypeSection
}
