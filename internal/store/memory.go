package store

import (
	"context"
	"sort"
	"sync"

	"github.com/user/llmgate/internal/llmtypes"
)

// MemoryStore keeps histories in a process-local map. Data is lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]llmtypes.Message
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]llmtypes.Message)}
}

func (s *MemoryStore) Save(ctx context.Context, sessionID string, history []llmtypes.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = copyHistory(history)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) ([]llmtypes.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.sessions[sessionID]
	if !ok {
		return []llmtypes.Message{}, nil
	}
	return copyHistory(history), nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// ListSessions returns session ids in lexical order
func (s *MemoryStore) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok, nil
}
