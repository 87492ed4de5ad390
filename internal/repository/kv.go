package repository

import (
	"context"
	"errors"
	"sync"
)

// ErrKeyNotFound is returned by KV stores for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the persisted key-value store holding whole-collection snapshots.
// It offers no transactions: every collection is read and written as a unit
// and concurrent writers race with last-write-wins semantics.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// MemoryKV is an in-process KVStore used for local development and tests.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
	// FailWith forces every operation to fail, simulating an unavailable store.
	FailWith error
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	value, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set stores a copy of value.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}
