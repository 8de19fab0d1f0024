package substore

import (
	"context"
	"sync"
)

// InMemoryStore is a thread-safe, map-backed Store for tests and single
// process deployments where durability across restarts is not needed.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Save stores the record, replacing any existing record for the same topic.
func (s *InMemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Topic] = rec
	return nil
}

// Fetch retrieves the record for a topic.
func (s *InMemoryStore) Fetch(_ context.Context, topic string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[topic]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// Delete removes the record for a topic, if present.
func (s *InMemoryStore) Delete(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, topic)
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
