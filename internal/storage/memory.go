package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type memoryRecord struct {
	owner string
	data  []byte
}

// MemoryStore keeps documents as encoded JSON so callers never share
// mutable state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]memoryRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]memoryRecord)}
}

func (s *MemoryStore) Upsert(_ context.Context, collection, id, owner string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.docs[collection]
	if !ok {
		c = make(map[string]memoryRecord)
		s.docs[collection] = c
	}
	c[id] = memoryRecord{owner: owner, data: data}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, collection, id string, dest any) error {
	s.mu.RLock()
	rec, ok := s.docs[collection][id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(rec.data, dest)
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, collection, owner string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs[collection]))
	for id, rec := range s.docs[collection] {
		if owner == "" || rec.owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, json.RawMessage(s.docs[collection][id].data))
	}
	return out, nil
}
