// SPDX-License-Identifier: MIT

package resume

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps positions in a map. Used for tests and for setups that
// run without a data directory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Position
}

var errStoreClosed = errors.New("resume store closed")

// NewMemoryStore creates an empty in-memory resume store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Position)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return errStoreClosed
	}
	s.data[key] = pos
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, errStoreClosed
	}
	if pos, ok := s.data[key]; ok {
		clone := pos
		return &clone, nil
	}
	return nil, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return errStoreClosed
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return errStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
