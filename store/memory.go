package store

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps documents in process memory. Useful for tests; it offers no
// cross-process exclusion.
type MemoryStore struct {
	mu sync.Mutex

	docs  map[Document][]byte
	locks map[Document]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  map[Document][]byte{},
		locks: map[Document]*sync.Mutex{},
	}
}

func (s *MemoryStore) lock(doc Document) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[doc]
	if !ok {
		l = &sync.Mutex{}
		s.locks[doc] = l
	}
	return l
}

func (s *MemoryStore) get(doc Document) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[doc]
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

func (s *MemoryStore) Transaction(_ context.Context, doc Document, fn func([]byte) ([]byte, error)) error {
	l := s.lock(doc)
	l.Lock()
	defer l.Unlock()

	next, err := fn(s.get(doc))
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	s.mu.Lock()
	s.docs[doc] = append([]byte(nil), next...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Read(_ context.Context, doc Document) ([]byte, error) {
	l := s.lock(doc)
	l.Lock()
	defer l.Unlock()
	return s.get(doc), nil
}

func (s *MemoryStore) Close() error { return nil }
