package ingest

import (
	"context"

	"attachflow/internal/models"
)

// AlertSink receives every alert raised by a coordinator, including the ones
// raised after Ingest returned (upload failures).
type AlertSink interface {
	Report(models.Alert)
}

type AlertFunc func(models.Alert)

func (f AlertFunc) Report(a models.Alert) { f(a) }

// PostCommitHook runs after an attachment change is committed. Hooks run in
// their own goroutine; an error is logged and never changes the attachment.
type PostCommitHook interface {
	AttachmentReady(ctx context.Context, sessionID string, a models.PendingAttachment) error
	AttachmentRemoved(ctx context.Context, sessionID string, a models.PendingAttachment) error
}

// HookFuncs adapts plain functions to PostCommitHook. Nil fields are no-ops.
type HookFuncs struct {
	Ready   func(ctx context.Context, sessionID string, a models.PendingAttachment) error
	Removed func(ctx context.Context, sessionID string, a models.PendingAttachment) error
}

func (h HookFuncs) AttachmentReady(ctx context.Context, sessionID string, a models.PendingAttachment) error {
	if h.Ready == nil {
		return nil
	}
	return h.Ready(ctx, sessionID, a)
}

func (h HookFuncs) AttachmentRemoved(ctx context.Context, sessionID string, a models.PendingAttachment) error {
	if h.Removed == nil {
		return nil
	}
	return h.Removed(ctx, sessionID, a)
}
