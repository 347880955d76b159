package store

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[Namespace]map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Namespace]map[string][]byte)}
}

// Get returns copies of the stored values.
func (s *MemoryStore) Get(ctx context.Context, ns Namespace, keys ...string) (map[string][]byte, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	bucket := s.data[ns]
	out := make(map[string][]byte)
	if len(keys) == 0 {
		for k, v := range bucket {
			out[k] = clone(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := bucket[k]; ok {
			out[k] = clone(v)
		}
	}
	return out, nil
}

// Set upserts values.
func (s *MemoryStore) Set(ctx context.Context, ns Namespace, data map[string][]byte) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	bucket := s.data[ns]
	if bucket == nil {
		bucket = make(map[string][]byte)
		s.data[ns] = bucket
	}
	for k, v := range data {
		bucket[k] = clone(v)
	}
	return nil
}

// Remove deletes keys.
func (s *MemoryStore) Remove(ctx context.Context, ns Namespace, keys ...string) error {
	if err := checkNamespace(ns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(s.data[ns], k)
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
