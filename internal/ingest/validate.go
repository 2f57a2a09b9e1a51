package ingest

import (
	"fmt"
	"unicode/utf8"

	"attachflow/internal/config"
	"attachflow/internal/models"
)

// TruncationSuffix is appended to documents cut at the per-document budget.
const TruncationSuffix = "\n\n[... content truncated ...]"

type Limits struct {
	MaxAttachments  int
	MaxFileBytes    int64
	MaxDocChars     int
	MaxTotalPayload int
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxAttachments:  config.DefaultMaxAttachments,
		MaxFileBytes:    config.DefaultMaxFileBytes,
		MaxDocChars:     config.DefaultMaxDocChars,
		MaxTotalPayload: config.DefaultMaxTotalPayload,
	}
}

func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	return Limits{
		MaxAttachments:  cfg.MaxAttachments,
		MaxFileBytes:    cfg.MaxFileBytes,
		MaxDocChars:     cfg.MaxDocChars,
		MaxTotalPayload: cfg.MaxTotalPayload,
	}
}

// Gate enforces per-file and aggregate limits. Lengths are counted in characters.
type Gate struct {
	limits Limits
}

func NewGate(limits Limits) Gate {
	def := DefaultLimits()
	if limits.MaxAttachments <= 0 {
		limits.MaxAttachments = def.MaxAttachments
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = def.MaxFileBytes
	}
	if limits.MaxDocChars <= 0 {
		limits.MaxDocChars = def.MaxDocChars
	}
	if limits.MaxTotalPayload <= 0 {
		limits.MaxTotalPayload = def.MaxTotalPayload
	}
	return Gate{limits: limits}
}

func (g Gate) Limits() Limits { return g.limits }

// CheckFile rejects files above the per-file size ceiling.
func (g Gate) CheckFile(f *models.File) error {
	if f.Size > g.limits.MaxFileBytes {
		return &FileError{
			Name: f.Name,
			Err:  fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, f.Size, g.limits.MaxFileBytes),
		}
	}
	return nil
}

// CheckCount rejects the whole batch when it would push the list past the ceiling.
func (g Gate) CheckCount(current, incoming int) error {
	if current+incoming > g.limits.MaxAttachments {
		return fmt.Errorf("%w: %d pending plus %d new exceeds the limit of %d",
			ErrTooManyAttachments, current, incoming, g.limits.MaxAttachments)
	}
	return nil
}

// Truncate cuts text to the per-document budget and appends TruncationSuffix.
// The returned alert is non-nil only when text was cut.
func (g Gate) Truncate(name, text string) (string, *models.Alert) {
	if utf8.RuneCountInString(text) <= g.limits.MaxDocChars {
		return text, nil
	}
	cut := 0
	for i := range text {
		if cut == g.limits.MaxDocChars {
			text = text[:i]
			break
		}
		cut++
	}
	return text + TruncationSuffix, &models.Alert{
		Message:  fmt.Sprintf("%s was truncated to %d characters", name, g.limits.MaxDocChars),
		Severity: models.SeverityWarning,
		Code:     CodeTruncated,
		File:     name,
	}
}

// CheckPayload vetoes the incoming documents if, together with the existing
// ones, they exceed the aggregate budget.
func (g Gate) CheckPayload(existing []models.PendingAttachment, incoming []models.PendingAttachment) error {
	total := documentPayload(existing)
	added := documentPayload(incoming)
	if total+added > g.limits.MaxTotalPayload {
		return fmt.Errorf("%w: %d characters pending plus %d new exceeds %d",
			ErrPayloadTooLarge, total, added, g.limits.MaxTotalPayload)
	}
	return nil
}

func documentPayload(list []models.PendingAttachment) int {
	n := 0
	for _, a := range list {
		if a.Kind == models.KindDocument {
			n += a.ContentLength()
		}
	}
	return n
}
