package models

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSameAs(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	a := BytesFile("a.png", "image/png", []byte("abc"), ts)
	b := BytesFile("a.png", "", []byte("xyz"), ts)
	if !a.SameAs(b) {
		t.Fatalf("expected files with equal name, size and mtime to match")
	}
	c := BytesFile("a.png", "image/png", []byte("abcd"), ts)
	if a.SameAs(c) {
		t.Fatalf("size differs, expected no match")
	}
	d := BytesFile("a.png", "image/png", []byte("abc"), ts.Add(time.Second))
	if a.SameAs(d) {
		t.Fatalf("mtime differs, expected no match")
	}
	if a.SameAs(nil) {
		t.Fatalf("nil never matches")
	}
}

func TestReadAllLimit(t *testing.T) {
	f := BytesFile("notes.txt", "text/plain", []byte("0123456789"), time.Time{})
	data, err := ReadAll(f, 10)
	if err != nil || string(data) != "0123456789" {
		t.Fatalf("read at limit: %q %v", data, err)
	}
	if _, err := ReadAll(f, 9); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if _, err := ReadAll(&File{Name: "empty"}, 0); err == nil {
		t.Fatalf("expected error for file without content")
	}
}

func TestPathFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("# title"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	f, err := PathFile(path)
	if err != nil {
		t.Fatalf("path file: %v", err)
	}
	if f.Name != "doc.md" || f.Size != 7 {
		t.Fatalf("unexpected metadata: %+v", f)
	}
	data, err := ReadAll(f, 0)
	if err != nil || string(data) != "# title" {
		t.Fatalf("read: %q %v", data, err)
	}
	if _, err := PathFile(dir); err == nil {
		t.Fatalf("expected directory to be refused")
	}
}

func TestContentLengthCountsRunes(t *testing.T) {
	a := PendingAttachment{Content: "héllo"}
	if a.ContentLength() != 5 {
		t.Fatalf("want 5 got %d", a.ContentLength())
	}
}
