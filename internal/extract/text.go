package extract

import (
	"context"
	"io"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textParser passes raw bytes through as UTF-8 with a leading BOM removed.
// Markup (html, md) is left untouched.
type textParser struct {
	inner parser.TextParser
}

func (p textParser) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	decoded := transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
	return p.inner.Parse(ctx, decoded, opts...)
}
