package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/mattn/go-runewidth"
	"github.com/xuri/excelize/v2"
)

const metaKeySheet = "sheet"

// xlsxParser renders every sheet as one document holding an aligned text table.
type xlsxParser struct{}

func loadXLSXEngine(context.Context) (parser.Parser, error) {
	return xlsxParser{}, nil
}

func (xlsxParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	o := parser.GetCommonOptions(&parser.Options{}, opts...)
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	docs := make([]*schema.Document, 0, len(sheets))
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		content := "Sheet: " + sheet
		if table := renderTable(rows); table != "" {
			content += "\n" + table
		}
		docs = append(docs, &schema.Document{
			ID:      fmt.Sprintf("%s#%s", o.URI, sheet),
			Content: content,
			MetaData: map[string]any{
				metaKeySource: o.URI,
				metaKeySheet:  sheet,
			},
		})
	}
	return docs, nil
}

// renderTable pads every column to its widest cell, joins cells with " | "
// and puts a dashed separator under the first row.
func renderTable(rows [][]string) string {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return ""
	}
	widths := make([]int, cols)
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	cells := make([]string, cols)
	for i, row := range rows {
		for c := 0; c < cols; c++ {
			var cell string
			if c < len(row) {
				cell = row[c]
			}
			cells[c] = runewidth.FillRight(cell, widths[c])
		}
		lines = append(lines, strings.TrimRight(strings.Join(cells, " | "), " "))
		if i == 0 {
			dashes := make([]string, cols)
			for c, w := range widths {
				dashes[c] = strings.Repeat("-", w)
			}
			lines = append(lines, strings.Join(dashes, "-+-"))
		}
	}
	return strings.Join(lines, "\n")
}
