package session

import (
	"sync"

	"github.com/glebrm/inspect-backend/internal/remote"
)

// Manager hands out one Session per user, creating it on first use. The
// session subscribes to the synchronizer for its whole lifetime.
type Manager struct {
	syn *remote.Synchronizer

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(syn *remote.Synchronizer) *Manager {
	return &Manager{
		syn:      syn,
		sessions: make(map[string]*Session),
	}
}

// Get returns the user's session, creating and subscribing it on demand.
func (m *Manager) Get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s := newSession(userID, m.syn)
	m.sessions[userID] = s
	return s
}

// Close detaches every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
