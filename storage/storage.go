// Package storage holds the durable state collaborators handed to actor
// instances: a key/value store that survives eviction and an event emitter.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrEmptyKey is returned for operations on the empty key.
var ErrEmptyKey = errors.New("storage: empty key")

// Storage is a key/value store scoped to one actor. Values are stored as
// JSON so that callers never share memory with the store.
type Storage interface {
	// Get decodes the value at key into out and reports whether it existed.
	Get(ctx context.Context, key string, out any) (bool, error)
	Put(ctx context.Context, key string, value any) error
	// Delete reports whether key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns the keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Memory is an in-process Storage backend. It outlives actor instances, so
// state written through a scope is visible again after the actor is evicted
// and reactivated.
type Memory struct {
	mu     sync.RWMutex
	scopes map[string]map[string][]byte
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{scopes: make(map[string]map[string][]byte)}
}

// Scope returns the Storage view for one actor id.
func (m *Memory) Scope(id string) Storage {
	return &scoped{mem: m, id: id}
}

type scoped struct {
	mem *Memory
	id  string
}

func (s *scoped) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mem.mu.RLock()
	raw, ok := s.mem.scopes[s.id][key]
	s.mem.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *scoped) Put(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	bucket, ok := s.mem.scopes[s.id]
	if !ok {
		bucket = make(map[string][]byte)
		s.mem.scopes[s.id] = bucket
	}
	bucket[key] = raw
	return nil
}

func (s *scoped) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	bucket := s.mem.scopes[s.id]
	if _, ok := bucket[key]; !ok {
		return false, nil
	}
	delete(bucket, key)
	return true, nil
}

func (s *scoped) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	keys := make([]string, 0)
	for k := range s.mem.scopes[s.id] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
