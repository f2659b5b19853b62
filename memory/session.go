package memory

import (
	"context"
	"sync"

	"github.com/meikuraledutech/flowgraph"
)

// SessionStore implements flowgraph.SessionStore in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]flowgraph.Session
}

var _ flowgraph.SessionStore = (*SessionStore)(nil)

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]flowgraph.Session)}
}

func (s *SessionStore) SaveSession(_ context.Context, sess *flowgraph.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *SessionStore) LoadSession(_ context.Context, id string) (*flowgraph.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, flowgraph.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
