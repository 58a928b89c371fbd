package store

import (
	"context"
	"sync"
)

const defaultMemoryLimit = 50

// MemoryAttemptStore keeps the most recent records per session.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[string][]AttemptRecord
	limit    int
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: make(map[string][]AttemptRecord),
		limit:    defaultMemoryLimit,
	}
}

func (s *MemoryAttemptStore) Record(_ context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.attempts[rec.SessionID], rec)
	if len(list) > s.limit {
		list = list[len(list)-s.limit:]
	}
	s.attempts[rec.SessionID] = list
	return nil
}

// ListBySession returns records newest first.
func (s *MemoryAttemptStore) ListBySession(_ context.Context, sessionID string, limit int) ([]AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.attempts[sessionID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]AttemptRecord, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
