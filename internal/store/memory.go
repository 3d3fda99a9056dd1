package store

import (
	"bytes"
	"context"
	"iter"
	"sync"
)

// MemoryStore keeps every collection in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) collection(name string) map[string][]byte {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string][]byte)
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.collections[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *MemoryStore) Put(_ context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		value = []byte{}
	}
	s.collection(collection)[key] = bytes.Clone(value)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections[collection], key)
	return nil
}

func (s *MemoryStore) Iterate(_ context.Context, collection string) (iter.Seq2[string, []byte], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedSeq(s.collections[collection]), nil
}

// WithTransaction holds the write lock for the duration of fn.
func (s *MemoryStore) WithTransaction(_ context.Context, collection string, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	tx := newStagingTx(func(key string) ([]byte, error) {
		v, ok := c[key]
		if !ok {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	})
	if err := fn(tx); err != nil {
		return err
	}
	tx.applyTo(c)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
