package mcp

import (
	"maps"
	"sync"
)

// ContextStore holds enrichment values that callers set before requesting
// an evaluation. The client embeds a snapshot in every suggestion it sends.
type ContextStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{values: make(map[string]any)}
}

// Set stores a value under key.
func (s *ContextStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes key.
func (s *ContextStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Clear removes every value.
func (s *ContextStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
}

// Snapshot returns a copy of the current values, or nil when empty.
// Safe to call on a nil store.
func (s *ContextStore) Snapshot() map[string]any {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.values) == 0 {
		return nil
	}
	return maps.Clone(s.values)
}
