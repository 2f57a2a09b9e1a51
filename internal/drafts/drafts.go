// Package drafts persists the pending attachment list of each conversation.
// Every store satisfies ingest.DraftStore.
package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"attachflow/internal/models"
)

type snapshot struct {
	Attachments   []models.PendingAttachment `json:"attachments"`
	MediaAccepted bool                       `json:"media_accepted"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

func (s snapshot) draft(sessionID string) models.Draft {
	return models.Draft{
		SessionID:     sessionID,
		Attachments:   s.Attachments,
		MediaAccepted: s.MediaAccepted,
		UpdatedAt:     s.UpdatedAt,
	}
}

func encode(d models.Draft) ([]byte, error) {
	attachments := d.Attachments
	if attachments == nil {
		attachments = []models.PendingAttachment{}
	}
	data, err := json.Marshal(snapshot{Attachments: attachments, MediaAccepted: d.MediaAccepted, UpdatedAt: d.UpdatedAt})
	if err != nil {
		return nil, fmt.Errorf("encode draft %s: %w", d.SessionID, err)
	}
	return data, nil
}

func decode(sessionID string, data []byte) (snapshot, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return snapshot{}, fmt.Errorf("decode draft %s: %w", sessionID, err)
	}
	return s, nil
}

// Memory keeps drafts for the life of the process.
type Memory struct {
	mu     sync.RWMutex
	drafts map[string]models.Draft
}

func NewMemory() *Memory {
	return &Memory{drafts: make(map[string]models.Draft)}
}

func (m *Memory) Load(_ context.Context, sessionID string) (models.Draft, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[sessionID]
	if !ok {
		return models.Draft{}, false, nil
	}
	d.Attachments = append([]models.PendingAttachment(nil), d.Attachments...)
	return d, true, nil
}

func (m *Memory) Save(_ context.Context, d models.Draft) error {
	d.Attachments = append([]models.PendingAttachment(nil), d.Attachments...)
	m.mu.Lock()
	m.drafts[d.SessionID] = d
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.drafts, sessionID)
	m.mu.Unlock()
	return nil
}
