// Package stream tracks the decode sessions that are currently running,
// keyed by input name.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Session is one active input.
type Session struct {
	Key       string
	Path      string
	Engine    string
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed when the session is removed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Manager manages the lifecycle of active sessions.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "stream-manager"),
		sessions: make(map[string]*Session),
	}
}

// Create registers a session. It returns the session and true if created,
// or nil and false if a session with this key already exists.
func (m *Manager) Create(key, path, engine string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Session{
		Key:       key,
		Path:      path,
		Engine:    engine,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.sessions[key] = s
	m.log.Info("session created", "key", key, "path", path, "engine", engine)
	return s, true
}

// Get returns the session for key.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Remove removes a session and closes its done channel.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("session removed", "key", key, "uptime", time.Since(s.StartedAt).Round(time.Millisecond))
	}
}

// List returns all active sessions ordered by key.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Key < sessions[j].Key })
	return sessions
}
