// Package memory is an in-process Storage. Contents are lost when the
// process exits, so it only offers best-effort durability.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/loykin/logship/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	entries map[int]string
}

func New() *Store {
	return &Store{entries: make(map[int]string)}
}

func (s *Store) Get(_ context.Context, idx int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[idx]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, idx int, value string) error {
	if err := store.CheckIndex(idx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[idx] = value
	return nil
}

func (s *Store) Remove(_ context.Context, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, idx)
	return nil
}

func (s *Store) Keys(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]int, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys, nil
}

func (s *Store) Shift(_ context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[int]string, len(s.entries))
	for k, v := range s.entries {
		if k >= n {
			next[k-n] = v
		}
	}
	s.entries = next
	return nil
}

func (s *Store) Close() error { return nil }
