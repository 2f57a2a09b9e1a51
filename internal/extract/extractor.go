package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"

	"attachflow/internal/logger"
	"attachflow/internal/models"
)

var ErrUnknownFormat = errors.New("unknown document format")

// ExtractionError wraps any engine load or parse failure for one file.
type ExtractionError struct {
	File  string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.File, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// Extractor converts document files into plain text.
type Extractor struct {
	engines *Engines
	text    parser.Parser
	log     logger.Logger
}

func NewExtractor(engines *Engines, log logger.Logger) *Extractor {
	if engines == nil {
		engines = NewEngines()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Extractor{
		engines: engines,
		text:    textParser{},
		log:     log.With("component", "extract"),
	}
}

// Engines exposes the engine cache so callers can reset it.
func (x *Extractor) Engines() *Engines { return x.engines }

// Extract returns the text of f. Truncation is left to the caller.
func (x *Extractor) Extract(ctx context.Context, f *models.File) (string, error) {
	format, ok := Detect(f.Name)
	if !ok {
		return "", &ExtractionError{File: f.Name, Cause: ErrUnknownFormat}
	}
	p, err := x.parserFor(ctx, format)
	if err != nil {
		return "", &ExtractionError{File: f.Name, Cause: err}
	}
	rc, err := f.Open()
	if err != nil {
		return "", &ExtractionError{File: f.Name, Cause: err}
	}
	defer rc.Close()

	docs, err := p.Parse(ctx, rc, parser.WithURI(f.Name))
	if err != nil {
		return "", &ExtractionError{File: f.Name, Cause: err}
	}
	text := joinDocuments(docs, formatTable[format].separator)
	x.log.Debug("document extracted", "file", f.Name, "format", string(format), "parts", len(docs))
	return text, nil
}

// ExtractPath reads a local file through the eino file loader.
func (x *Extractor) ExtractPath(ctx context.Context, path string) (string, error) {
	format, ok := Detect(path)
	if !ok {
		return "", &ExtractionError{File: path, Cause: ErrUnknownFormat}
	}
	cfg := &parser.ExtParserConfig{FallbackParser: x.text}
	if kind := format.Engine(); kind != EngineNone {
		p, err := x.engines.Get(ctx, kind)
		if err != nil {
			return "", &ExtractionError{File: path, Cause: err}
		}
		cfg.Parsers = map[string]parser.Parser{format.Ext(): p}
	}
	ext, err := parser.NewExtParser(ctx, cfg)
	if err != nil {
		return "", &ExtractionError{File: path, Cause: err}
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      ext,
	})
	if err != nil {
		return "", &ExtractionError{File: path, Cause: err}
	}
	docs, err := loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", &ExtractionError{File: path, Cause: err}
	}
	return joinDocuments(docs, formatTable[format].separator), nil
}

func (x *Extractor) parserFor(ctx context.Context, format Format) (parser.Parser, error) {
	kind := format.Engine()
	if kind == EngineNone {
		return x.text, nil
	}
	return x.engines.Get(ctx, kind)
}

func joinDocuments(docs []*schema.Document, sep string) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		parts = append(parts, doc.Content)
	}
	return strings.Join(parts, sep)
}
