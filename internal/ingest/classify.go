package ingest

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"attachflow/internal/extract"
	"attachflow/internal/models"
)

const octetStream = "application/octet-stream"

var (
	baseImageTypes = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
	}
	extendedImageTypes = map[string]string{
		".gif":  "image/gif",
		".webp": "image/webp",
		".svg":  "image/svg+xml",
	}
)

// Classifier decides whether a file is a document or an image candidate.
type Classifier struct {
	extendedImages bool
}

// NewClassifier accepts gif, webp and svg images only when extended is set.
func NewClassifier(extended bool) Classifier {
	return Classifier{extendedImages: extended}
}

// Classify looks at the name and declared MIME type only.
// Extension-less blobs (clipboard images) fall back to an image/ MIME prefix;
// a known but unsupported extension is rejected whatever the MIME says.
func (c Classifier) Classify(name, mimeType string) (models.Kind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := extract.Detect(name); ok {
		return models.KindDocument, nil
	}
	if _, ok := c.imageType(ext); ok {
		return models.KindImage, nil
	}
	if ext == "" && strings.HasPrefix(normalizeMIME(mimeType), "image/") {
		return models.KindImage, nil
	}
	return "", &FileError{Name: name, Err: ErrUnsupportedType}
}

func (c Classifier) imageType(ext string) (string, bool) {
	if mt, ok := baseImageTypes[ext]; ok {
		return mt, true
	}
	if c.extendedImages {
		if mt, ok := extendedImageTypes[ext]; ok {
			return mt, true
		}
	}
	return "", false
}

// normalizeMIME lowercases and strips parameters. Unparseable values become "".
func normalizeMIME(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return mt
}

// resolveMIME prefers the declared type, then the extension, then sniffing.
func (c Classifier) resolveMIME(f *models.File, kind models.Kind, head []byte) string {
	if mt := normalizeMIME(f.MimeType); mt != "" && mt != octetStream {
		return mt
	}
	ext := strings.ToLower(filepath.Ext(f.Name))
	switch kind {
	case models.KindDocument:
		if format, ok := extract.Detect(f.Name); ok {
			return format.MimeType()
		}
	case models.KindImage:
		if mt, ok := c.imageType(ext); ok {
			return mt
		}
	}
	if len(head) > 0 {
		if mt := normalizeMIME(mimetype.Detect(head).String()); mt != "" {
			return mt
		}
	}
	return octetStream
}
