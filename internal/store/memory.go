package store

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store with the same contract as the
// Badger implementation. Used by tests and ephemeral deployments where
// room state does not need to outlive the process.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	lists map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string][]byte),
		lists: make(map[string][][]byte),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.docs[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = clone(value)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return nil
}

func (s *MemoryStore) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[key]
	return ok, nil
}

func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.docs))
	for key := range s.docs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Apply(b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range b.Set {
		s.docs[key] = clone(value)
	}
	for _, key := range b.Delete {
		delete(s.docs, key)
	}
	return nil
}

func (s *MemoryStore) ListAppend(key string, value []byte, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.lists[key], clone(value))
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) ListRange(key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[key]
	out := make([][]byte, len(list))
	for i, v := range list {
		out[i] = clone(v)
	}
	return out, nil
}

func (s *MemoryStore) ListLen(key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lists[key]), nil
}

func (s *MemoryStore) ListDelete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
