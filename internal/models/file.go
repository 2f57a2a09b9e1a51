package models

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"
)

// ErrFileTooLarge is returned by ReadAll when the content exceeds the limit.
var ErrFileTooLarge = errors.New("file too large")

// File is an incoming file as handed over by a chooser, a drop or a paste.
type File struct {
	Name         string
	MimeType     string
	Size         int64
	LastModified time.Time

	open func() (io.ReadCloser, error)
}

// Open returns a fresh reader over the file content.
func (f *File) Open() (io.ReadCloser, error) {
	if f == nil || f.open == nil {
		return nil, fmt.Errorf("file %q has no content", f.displayName())
	}
	return f.open()
}

// SameAs matches files by name, size and last-modified time.
func (f *File) SameAs(other *File) bool {
	if f == nil || other == nil {
		return false
	}
	return f.Name == other.Name && f.Size == other.Size && f.LastModified.Equal(other.LastModified)
}

func (f *File) displayName() string {
	if f == nil {
		return ""
	}
	return f.Name
}

// BytesFile wraps in-memory content.
func BytesFile(name, mimeType string, data []byte, lastModified time.Time) *File {
	return &File{
		Name:         name,
		MimeType:     mimeType,
		Size:         int64(len(data)),
		LastModified: lastModified,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// MultipartFile wraps an uploaded multipart part.
func MultipartFile(fh *multipart.FileHeader, lastModified time.Time) *File {
	return &File{
		Name:         filepath.Base(fh.Filename),
		MimeType:     fh.Header.Get("Content-Type"),
		Size:         fh.Size,
		LastModified: lastModified,
		open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// PathFile wraps a file on the local disk.
func PathFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &File{
		Name:         filepath.Base(path),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// ReadAll reads the whole file, failing with ErrFileTooLarge past maxBytes.
// A non-positive maxBytes disables the limit.
func ReadAll(f *File, maxBytes int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if maxBytes <= 0 {
		return io.ReadAll(rc)
	}
	limited := &io.LimitedReader{R: rc, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, maxBytes)
	}
	return data, nil
}
