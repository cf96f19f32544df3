package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/Fernly/internal/conversation"
	"github.com/BTreeMap/Fernly/internal/learning"
	"github.com/BTreeMap/Fernly/internal/models"
	"github.com/BTreeMap/Fernly/internal/store"
)

// Session is one live conversation and the learning document it owns.
// Conversation state lives only in memory; learning persists under the session id.
type Session struct {
	ID       string
	State    *conversation.State
	Learning *learning.Store

	mu         sync.Mutex
	lastActive time.Time
}

// LastActive returns when the session last handled a turn.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// History returns a copy of the conversation so far.
func (s *Session) History() []models.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ConversationTurn(nil), s.State.Turns...)
}

// SessionManager keeps live sessions keyed by id. It is safe for concurrent use.
type SessionManager struct {
	persister store.Persister
	now       func() time.Time
	idleTTL   time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionClock sets the clock used for activity and learning timestamps.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithIdleTTL evicts sessions idle for longer than ttl when Sweep runs. Zero
// keeps sessions until they are deleted.
func WithIdleTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		m.idleTTL = ttl
	}
}

// NewSessionManager creates a SessionManager whose sessions persist learning
// through p. p may be nil for purely in-memory learning.
func NewSessionManager(p store.Persister, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		persister: p,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	slog.Debug("SessionManager: created", "persistent", p != nil, "idleTTL", m.idleTTL)
	return m
}

// Open returns the session with the given id, creating it and loading its
// learning document if needed. An empty id creates a session with a fresh id.
// The Status reports whether learning could be loaded.
func (m *SessionManager) Open(ctx context.Context, id string) (*Session, learning.Status) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return sess, sess.Learning.Status()
	}
	m.mu.Unlock()

	// Load outside the lock; a concurrent Open of the same id keeps the first.
	ls, status := learning.Open(ctx, m.persister, id, learning.WithClock(m.now))
	sess := &Session{
		ID:         id,
		State:      conversation.NewState(conversation.WithClock(m.now)),
		Learning:   ls,
		lastActive: m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, existing.Learning.Status()
	}
	m.sessions[id] = sess
	slog.Info("SessionManager.Open: session started", "session", id, "status", status)
	return sess, status
}

// Get returns a live session.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return sess, nil
}

// Delete ends a session. Its learning is saved first; the stored document is kept.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if status := sess.Learning.Flush(ctx); !status.OK() {
		slog.Warn("SessionManager.Delete: learning not saved", "session", id, "error", status.Err)
	}
	slog.Info("SessionManager.Delete: session ended", "session", id)
	return nil
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle longer than the configured TTL and returns how many
// were evicted.
func (m *SessionManager) Sweep(ctx context.Context) int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	var idle []string
	m.mu.Lock()
	for id, sess := range m.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, id := range idle {
		if err := m.Delete(ctx, id); err == nil {
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("SessionManager.Sweep: evicted idle sessions", "count", evicted)
	}
	return evicted
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (m *SessionManager) RunJanitor(ctx context.Context, interval time.Duration) {
	if m.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Debug("SessionManager.RunJanitor: started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SessionManager.RunJanitor: stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Close saves every live session's learning.
func (m *SessionManager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		status := sess.Learning.Flush(ctx)
		sess.mu.Unlock()
		if !status.OK() {
			slog.Warn("SessionManager.Close: learning not saved", "session", sess.ID, "error", status.Err)
		}
	}
}
