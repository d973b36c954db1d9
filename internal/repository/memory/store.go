// Package memory holds the lock-guarded map behind the in-memory
// repository.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Store when the requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store maps keys derived by keyOf to values. Callers mutate values only
// inside Update, which holds the write lock.
type Store[V any] struct {
	mu    sync.RWMutex
	data  map[string]V
	keyOf func(V) string
}

func New[V any](keyOf func(V) string) *Store[V] {
	return &Store[V]{data: make(map[string]V), keyOf: keyOf}
}

// Set inserts or replaces v under keyOf(v).
func (s *Store[V]) Set(_ context.Context, v V) error {
	s.mu.Lock()
	s.data[s.keyOf(v)] = v
	s.mu.Unlock()
	return nil
}

func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// View runs fn on the value under key with the read lock held. It reports
// whether the key existed; fn is not called otherwise.
func (s *Store[V]) View(_ context.Context, key string, fn func(v V)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if ok {
		fn(v)
	}
	return ok
}

// Update runs a read-modify-write of key under the write lock. found
// reports whether the key existed. The value fn returns is stored unless
// fn fails, in which case the map is left untouched.
func (s *Store[V]) Update(_ context.Context, key string, fn func(v V, found bool) (V, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, found := s.data[key]
	next, err := fn(cur, found)
	if err != nil {
		return err
	}
	s.data[key] = next
	return nil
}

// All returns every value ordered by key.
func (s *Store[V]) All(_ context.Context) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]V, len(keys))
	for i, k := range keys {
		out[i] = s.data[k]
	}
	return out, nil
}

// Len reports the number of stored values.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
