package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"attachflow/internal/logger"
	"attachflow/internal/models"
)

const (
	alertBacklog = 50
	flushTimeout = 5 * time.Second
)

var ErrManagerClosed = errors.New("ingest manager closed")

// DraftStore persists pending lists across restarts.
type DraftStore interface {
	Load(ctx context.Context, sessionID string) (models.Draft, bool, error)
	Save(ctx context.Context, draft models.Draft) error
	Delete(ctx context.Context, sessionID string) error
}

// ManagerOptions configures a Manager. Template holds the session independent
// part of every coordinator; SessionID, MediaAccepted, Alerts and OnChange are filled in by the manager.
type ManagerOptions struct {
	Template      Options
	MediaAccepted bool
	Store         DraftStore
	Logger        logger.Logger
}

type sessionState struct {
	coord  *Coordinator
	alerts []models.Alert
}

// Manager keeps one coordinator per conversation and writes their drafts
// through to the store in the background.
type Manager struct {
	opts  ManagerOptions
	store DraftStore
	log   logger.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool

	// flushMu keeps a purge from racing a save of the same draft.
	flushMu sync.Mutex
	dirtyMu sync.Mutex
	dirty   map[string]models.Draft
	kick    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	m := &Manager{
		opts:     opts,
		store:    opts.Store,
		log:      log.With("component", "ingest-manager"),
		sessions: make(map[string]*sessionState),
		dirty:    make(map[string]models.Draft),
		kick:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if m.opts.Template.Logger == nil {
		m.opts.Template.Logger = log
	}
	go m.runFlusher()
	return m
}

// Session returns the coordinator of a conversation, creating it on first
// use and restoring its draft when the store has one.
func (m *Manager) Session(ctx context.Context, sessionID string) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if st, ok := m.sessions[sessionID]; ok {
		return st.coord, nil
	}

	var (
		draft models.Draft
		found bool
	)
	if m.store != nil {
		var err error
		draft, found, err = m.store.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	st := &sessionState{}
	opts := m.opts.Template
	opts.SessionID = sessionID
	opts.MediaAccepted = m.opts.MediaAccepted
	opts.Alerts = AlertFunc(func(a models.Alert) { m.recordAlert(sessionID, a) })
	opts.OnChange = m.markDirty
	st.coord = NewCoordinator(opts)
	if found {
		st.coord.Restore(draft)
		m.log.Info("draft restored", "session", sessionID, "attachments", len(draft.Attachments))
	}
	m.sessions[sessionID] = st
	return st.coord, nil
}

// Lookup returns an already loaded coordinator.
func (m *Manager) Lookup(sessionID string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return st.coord, true
}

// DrainAlerts returns and clears the recent alerts of a conversation,
// including the ones raised by background uploads.
func (m *Manager) DrainAlerts(sessionID string) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok || len(st.alerts) == 0 {
		return []models.Alert{}
	}
	out := st.alerts
	st.alerts = nil
	return out
}

// Purge forgets a conversation and deletes its draft. A coordinator still
// held by a caller is detached, so nothing it does afterwards reaches the
// store. Uploads in flight are not waited for; their results are dropped.
func (m *Manager) Purge(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		st.coord.detach()
	}

	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	m.dirtyMu.Lock()
	delete(m.dirty, sessionID)
	m.dirtyMu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.Delete(ctx, sessionID)
}

// Flush writes every dirty draft now.
func (m *Manager) Flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	m.dirtyMu.Lock()
	pending := m.dirty
	m.dirty = make(map[string]models.Draft)
	m.dirtyMu.Unlock()

	if m.store == nil {
		return nil
	}
	var errs []error
	for _, draft := range pending {
		if err := m.store.Save(ctx, draft); err != nil {
			m.log.Error("save draft failed", "session", draft.SessionID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close waits for background uploads, stops the flusher and flushes the
// drafts. When ctx expires before the uploads settle, the drafts are still
// flushed as they are and ctx.Err() is returned.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	coords := make([]*Coordinator, 0, len(m.sessions))
	for _, st := range m.sessions {
		coords = append(coords, st.coord)
	}
	m.mu.Unlock()

	var waitErr error
	for _, c := range coords {
		if err := c.WaitContext(ctx); err != nil {
			m.log.Warn("uploads still running at close", "session", c.sessionID, "err", err)
			waitErr = err
			break
		}
	}
	close(m.quit)
	<-m.stopped

	flushCtx := ctx
	if waitErr != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
	}
	return errors.Join(waitErr, m.Flush(flushCtx))
}

func (m *Manager) recordAlert(sessionID string, a models.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	st.alerts = append(st.alerts, a)
	if over := len(st.alerts) - alertBacklog; over > 0 {
		st.alerts = st.alerts[over:]
	}
}

// markDirty runs under the coordinator lock, so it only records the draft.
func (m *Manager) markDirty(draft models.Draft) {
	m.dirtyMu.Lock()
	m.dirty[draft.SessionID] = draft
	m.dirtyMu.Unlock()
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) runFlusher() {
	defer close(m.stopped)
	for {
		select {
		case <-m.quit:
			return
		case <-m.kick:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			_ = m.Flush(ctx)
			cancel()
		}
	}
}
