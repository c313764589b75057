package preferences

import (
	"context"
	"sync"
)

// MemoryStore keeps preferences in memory only.
type MemoryStore struct {
	mutex  sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.values, key)
	return nil
}
