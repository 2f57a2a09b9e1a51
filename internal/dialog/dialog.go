// Package dialog tells the conversation backend which uploaded media belong
// to the message being composed.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"attachflow/internal/logger"
	"attachflow/internal/models"
	"attachflow/internal/redis"
)

const DefaultChannel = "dialog:media"

type Medium struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// Sink receives media selection changes.
type Sink interface {
	NotifySelected(ctx context.Context, sessionID string, m Medium) error
	NotifyDeselected(ctx context.Context, sessionID, mediumID string) error
}

type Event struct {
	Type      string    `json:"type"` // "selected" or "deselected"
	SessionID string    `json:"sessionId"`
	Medium    Medium    `json:"medium"`
	At        time.Time `json:"at"`
}

// RedisSink publishes every change as a JSON Event on one channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	log     logger.Logger
	now     func() time.Time
}

func NewRedisSink(client *redis.Client, channel string, log logger.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.Discard()
	}
	return &RedisSink{client: client, channel: channel, log: log.With("component", "dialog"), now: time.Now}
}

func (s *RedisSink) NotifySelected(ctx context.Context, sessionID string, m Medium) error {
	return s.publish(ctx, Event{Type: "selected", SessionID: sessionID, Medium: m})
}

func (s *RedisSink) NotifyDeselected(ctx context.Context, sessionID, mediumID string) error {
	return s.publish(ctx, Event{Type: "deselected", SessionID: sessionID, Medium: Medium{ID: mediumID}})
}

func (s *RedisSink) publish(ctx context.Context, ev Event) error {
	ev.At = s.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode dialog event: %w", err)
	}
	receivers, err := s.client.Publish(ctx, s.channel, payload)
	if err != nil {
		return fmt.Errorf("publish dialog event: %w", err)
	}
	s.log.Debug("dialog event published", "type", ev.Type, "session", ev.SessionID, "medium", ev.Medium.ID, "receivers", receivers)
	return nil
}

// Hook forwards ready and removed images of a coordinator to a Sink.
// Documents never reach the dialog.
type Hook struct {
	Sink Sink
}

func (h Hook) AttachmentReady(ctx context.Context, sessionID string, a models.PendingAttachment) error {
	if a.Kind != models.KindImage {
		return nil
	}
	return h.Sink.NotifySelected(ctx, sessionID, Medium{ID: a.RemoteID, URL: a.RemoteURL, MimeType: a.MimeType})
}

func (h Hook) AttachmentRemoved(ctx context.Context, sessionID string, a models.PendingAttachment) error {
	if a.Kind != models.KindImage || a.RemoteID == "" {
		return nil
	}
	return h.Sink.NotifyDeselected(ctx, sessionID, a.RemoteID)
}
