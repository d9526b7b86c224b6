package store

import (
	"context"
	"slices"
	"sync"
)

// MemStore keeps records in process memory. Used by tests and by
// single-process embedders that do not need durability.
type MemStore struct {
	mu      sync.RWMutex
	records map[Kind]map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[Kind]map[string][]byte)}
}

func (m *MemStore) Load(_ context.Context, kind Kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[kind][id]
	if !ok {
		return nil, notFound(kind, id)
	}
	return slices.Clone(data), nil
}

func (m *MemStore) Save(_ context.Context, kind Kind, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[kind] == nil {
		m.records[kind] = make(map[string][]byte)
	}
	m.records[kind][id] = slices.Clone(data)
	return nil
}

func (m *MemStore) Delete(_ context.Context, kind Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[kind][id]; !ok {
		return notFound(kind, id)
	}
	delete(m.records[kind], id)
	return nil
}

func (m *MemStore) List(_ context.Context, kind Kind) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records[kind]))
	for id := range m.records[kind] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemStore) Close() error { return nil }
