package extract

import (
	"path/filepath"
	"sort"
	"strings"
)

// Format identifies a supported document type.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatMD   Format = "md"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// EngineKind names a lazily loaded parsing engine. Plain text formats need none.
type EngineKind string

const (
	EngineNone EngineKind = ""
	EngineXLSX EngineKind = "xlsx"
	EnginePDF  EngineKind = "pdf"
)

type formatSpec struct {
	ext      string
	mimeType string
	engine   EngineKind
	// separator joins the documents a parser returns (sheets, pages).
	separator string
}

// Adding a format is one entry here plus, for binary formats, an engine loader.
var formatTable = map[Format]formatSpec{
	FormatTXT:  {ext: ".txt", mimeType: "text/plain"},
	FormatMD:   {ext: ".md", mimeType: "text/markdown"},
	FormatJSON: {ext: ".json", mimeType: "application/json"},
	FormatCSV:  {ext: ".csv", mimeType: "text/csv"},
	FormatHTML: {ext: ".html", mimeType: "text/html"},
	FormatXLSX: {
		ext:       ".xlsx",
		mimeType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		engine:    EngineXLSX,
		separator: "\n\n",
	},
	FormatPDF: {ext: ".pdf", mimeType: "application/pdf", engine: EnginePDF, separator: "\n"},
}

var extIndex = func() map[string]Format {
	idx := make(map[string]Format, len(formatTable))
	for f, spec := range formatTable {
		idx[spec.ext] = f
	}
	return idx
}()

// Detect returns the document format based on the file extension.
func Detect(name string) (Format, bool) {
	f, ok := extIndex[strings.ToLower(filepath.Ext(name))]
	return f, ok
}

func (f Format) Ext() string      { return formatTable[f].ext }
func (f Format) MimeType() string { return formatTable[f].mimeType }
func (f Format) Engine() EngineKind {
	return formatTable[f].engine
}

// Extensions lists every supported document extension, sorted.
func Extensions() []string {
	out := make([]string, 0, len(extIndex))
	for ext := range extIndex {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
