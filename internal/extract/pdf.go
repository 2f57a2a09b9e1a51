package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

const (
	metaKeySource = "source"
	metaKeyPage   = "page"
)

// pdfParser returns one document per page, in page order.
type pdfParser struct{}

func loadPDFEngine(context.Context) (parser.Parser, error) {
	return pdfParser{}, nil
}

func (pdfParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	o := parser.GetCommonOptions(&parser.Options{}, opts...)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	// the reader panics on some malformed cross-reference tables
	defer func() {
		if rec := recover(); rec != nil {
			docs, err = nil, fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	docs = make([]*schema.Document, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		var text string
		if !page.V.IsNull() {
			fonts := make(map[string]*pdf.Font)
			for _, name := range page.Fonts() {
				f := page.Font(name)
				fonts[name] = &f
			}
			raw, err := page.GetPlainText(fonts)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
			text = joinItems(raw)
		}
		docs = append(docs, &schema.Document{
			ID:      fmt.Sprintf("%s#%d", o.URI, i),
			Content: text,
			MetaData: map[string]any{
				metaKeySource: o.URI,
				metaKeyPage:   i,
			},
		})
	}
	return docs, nil
}

// joinItems collapses the line-split text items of a page into one line
// separated by single spaces.
func joinItems(raw string) string {
	lines := strings.Split(raw, "\n")
	items := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	return strings.Join(items, " ")
}
