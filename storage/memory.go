package storage

import (
	"context"
	"sync"
)

// MemStore keeps records in process memory. Used by tests and the "memory"
// backend.
type MemStore struct {
	mu      sync.RWMutex
	records []Record
	hashes  map[string]int64
	parents map[string]int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		hashes:  make(map[string]int64),
		parents: make(map[string]int64),
	}
}

func (m *MemStore) CreateRecord(_ context.Context, rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[rec.Hash]; ok {
		return Record{}, ErrDuplicate
	}
	if _, ok := m.parents[rec.PreviousHash]; ok {
		return Record{}, ErrDuplicate
	}
	stored := rec.clone()
	stored.ID = int64(len(m.records)) + 1
	m.records = append(m.records, stored)
	m.hashes[stored.Hash] = stored.ID
	m.parents[stored.PreviousHash] = stored.ID
	return stored.clone(), nil
}

func (m *MemStore) LatestRecord(_ context.Context) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return Record{}, ErrNotFound
	}
	return m.records[len(m.records)-1].clone(), nil
}

func (m *MemStore) RecordByHash(_ context.Context, hash string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.hashes[hash]
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.records[id-1].clone(), nil
}

func (m *MemStore) Record(_ context.Context, position int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if position < 1 || position > int64(len(m.records)) {
		return Record{}, ErrNotFound
	}
	return m.records[position-1].clone(), nil
}

func (m *MemStore) RecordCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Close satisfies BlockStore; there is nothing to release.
func (m *MemStore) Close() error { return nil }
