package tokenstore

import (
	"context"
	"sync"

	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
)

// MemoryStore is a process-local store. Records are copied on the way in
// and out so callers cannot mutate shared state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]models.TokenRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]models.TokenRecord)}
}

func (s *MemoryStore) Load(_ context.Context, key Key) (*models.TokenRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()

	if !ok {
		return nil, notFound(key)
	}

	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, key Key, rec *models.TokenRecord) error {
	s.mu.Lock()
	s.records[key] = *rec
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()

	return nil
}

// Len returns the number of records held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}
