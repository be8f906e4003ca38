package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser turns every sheet with data into one table element. The
// sheet position is used as the page number, so spans found in a table
// point back at the sheet they came from.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xls"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sections []Section
	for i, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		table := tableRows(rows)
		if len(table) == 0 {
			continue
		}

		sections = append(sections, Section{
			Heading:    sheet,
			Content:    renderTable(table),
			Type:       TypeTable,
			Label:      "table",
			Level:      1,
			PageNumber: i + 1,
			Metadata: map[string]string{
				"sheet_name": sheet,
				"row_count":  itoa(len(table)),
				"columns":    strings.Join(table[0], ", "),
			},
		})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	AssignRefs(sections)
	return &ParseResult{
		Sections: sections,
		Method:   "native",
	}, nil
}

// tableRows drops blank rows, trims cells and pads every row to the widest
// one so the rendered columns line up. Trailing empty columns are removed.
func tableRows(rows [][]string) [][]string {
	var out [][]string
	width := 0
	for _, row := range rows {
		cells := make([]string, len(row))
		last := -1
		for j, c := range row {
			cells[j] = strings.TrimSpace(c)
			if cells[j] != "" {
				last = j
			}
		}
		if last < 0 {
			continue
		}
		out = append(out, cells[:last+1])
		width = max(width, last+1)
	}
	for i, row := range out {
		for len(row) < width {
			row = append(row, "")
		}
		out[i] = row
	}
	return out
}

// renderTable writes rows as pipe-delimited lines.
func renderTable(rows [][]string) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = "| " + strings.Join(row, " | ") + " |"
	}
	return strings.Join(lines, "\n")
}
