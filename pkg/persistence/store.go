// Package persistence provides the durable document store behind the
// message store, the protocol preference tracker and the backlog queue.
// Each logical key holds one JSON document.
package persistence

import (
	"context"
	"errors"
	"sync"
)

// Logical document keys.
const (
	KeyMessages      = "messages"
	KeyProtocolPrefs = "protocol_prefs"
	KeyBacklog       = "backlog"
)

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("persistence: key not found")

// Store is a small key→document store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the document stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the document stored under key.
	Save(ctx context.Context, key string, data []byte) error
	// Delete removes the document stored under key, if any.
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-memory Store, used in tests and as a fallback when
// no durable backend is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Load returns the stored document or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

// Save replaces the stored document.
func (s *MemoryStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := make([]byte, len(data))
	copy(doc, data)
	s.docs[key] = doc
	return nil
}

// Delete removes the stored document.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return nil
}
