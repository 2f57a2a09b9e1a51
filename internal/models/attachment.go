package models

import (
	"time"
	"unicode/utf8"
)

// Kind separates extracted documents from uploaded images. It never changes once set.
type Kind string

const (
	KindDocument Kind = "document"
	KindImage    Kind = "image"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
)

// PendingAttachment is one entry of the composer's pending list.
type PendingAttachment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	MimeType  string    `json:"mime_type"`
	RemoteURL string    `json:"remote_url,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Status    Status    `json:"status"`
	Size      int64     `json:"size"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentLength counts characters, not bytes.
func (a PendingAttachment) ContentLength() int {
	return utf8.RuneCountInString(a.Content)
}

// Settled reports whether the attachment reached a terminal state.
func (a PendingAttachment) Settled() bool {
	return a.Status == StatusReady || a.Status == StatusFailed
}

// Draft is the persisted form of a session's pending list.
type Draft struct {
	SessionID     string              `json:"session_id"`
	Attachments   []PendingAttachment `json:"attachments"`
	MediaAccepted bool                `json:"media_accepted"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
