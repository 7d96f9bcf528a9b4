package store

import (
	"context"
	"sort"
	"sync"
)

// MemKV is an in-process KV bucket with the same atomicity semantics as the
// JetStream-backed implementation.
//
// It backs store=memory deployments (single instance, no external
// dependencies) and the test suite.
type MemKV struct {
	mu      sync.Mutex
	entries map[string]Entry
	nextRev uint64
}

func NewMemKV() *MemKV {
	return &MemKV{entries: make(map[string]Entry)}
}

func (m *MemKV) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return 0, ErrKeyExists
	}
	m.nextRev++
	m.entries[key] = Entry{Value: cloneBytes(value), Revision: m.nextRev}
	return m.nextRev, nil
}

func (m *MemKV) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return Entry{Value: cloneBytes(e.Value), Revision: e.Revision}, nil
}

func (m *MemKV) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, ErrKeyNotFound
	}
	if e.Revision != revision {
		return 0, ErrRevisionMismatch
	}
	m.nextRev++
	m.entries[key] = Entry{Value: cloneBytes(value), Revision: m.nextRev}
	return m.nextRev, nil
}

func (m *MemKV) Delete(ctx context.Context, key string, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return ErrKeyNotFound
	}
	if e.Revision != revision {
		return ErrRevisionMismatch
	}
	delete(m.entries, key)
	return nil
}

func (m *MemKV) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
