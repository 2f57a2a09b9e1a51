package ingest

import (
	"sync"

	"attachflow/internal/models"
	"attachflow/internal/upload"
)

// Source names where a batch came from.
type Source string

const (
	SourceChooser Source = "chooser"
	SourceDrop    Source = "drop"
	SourcePaste   Source = "paste"
)

func (s Source) Valid() bool {
	switch s {
	case SourceChooser, SourceDrop, SourcePaste:
		return true
	}
	return false
}

// IngestRequest is the single message every input source sends to the coordinator.
type IngestRequest struct {
	Files       []*models.File
	Source      Source
	Credentials upload.Credentials
}

// FromChooser wraps an explicit file-chooser selection.
func FromChooser(files []*models.File) IngestRequest {
	return IngestRequest{Files: files, Source: SourceChooser}
}

// PasteItem is one entry of a clipboard items list. Only file items carry a File.
type PasteItem struct {
	Kind string // "file" or "string"
	Type string
	File *models.File
}

// PasteEvent exposes clipboard content through both channels a browser offers.
type PasteEvent struct {
	Files []*models.File
	Items []PasteItem
}

// FromPaste prefers the direct file list and falls back to file items only
// when it is empty. Files repeating an already collected one (same name, size
// and last-modified time) are dropped.
func FromPaste(ev PasteEvent) IngestRequest {
	candidates := ev.Files
	if len(candidates) == 0 {
		for _, item := range ev.Items {
			if item.Kind == "file" && item.File != nil {
				candidates = append(candidates, item.File)
			}
		}
	}
	collected := make([]*models.File, 0, len(candidates))
	for _, f := range candidates {
		if f == nil {
			continue
		}
		dup := false
		for _, seen := range collected {
			if seen.SameAs(f) {
				dup = true
				break
			}
		}
		if !dup {
			collected = append(collected, f)
		}
	}
	return IngestRequest{Files: collected, Source: SourcePaste}
}

// DragTracker owns the enter/leave counter of a drop zone so nested elements
// do not flicker the active state. Active is true exactly while the counter is
// positive.
type DragTracker struct {
	mu    sync.Mutex
	depth int
}

// Enter records a dragenter and returns the new active state.
func (d *DragTracker) Enter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth++
	return d.depth > 0
}

// Leave records a dragleave. The counter never goes below zero.
func (d *DragTracker) Leave() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.depth > 0 {
		d.depth--
	}
	return d.depth > 0
}

func (d *DragTracker) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depth > 0
}

// Drop ends the drag and turns the dropped files into a request.
func (d *DragTracker) Drop(files []*models.File) IngestRequest {
	d.mu.Lock()
	d.depth = 0
	d.mu.Unlock()
	return IngestRequest{Files: files, Source: SourceDrop}
}
