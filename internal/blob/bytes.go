package blob

import (
	"context"
	"sync"
)

// Bytes is the byte-addressable backend holding assembled blobs and
// in-flight upload chunks. Get returns (nil, nil) for missing keys;
// deleting a missing key is not an error. MinIO implements this in
// production (internal/storage), MemoryBytes backs the tests.
type Bytes interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// MemoryBytes is an in-memory Bytes with a write counter, so tests can
// assert that deduplicated uploads write blob bytes exactly once.
type MemoryBytes struct {
	mu     sync.RWMutex
	items  map[string][]byte
	writes int
}

func NewMemoryBytes() *MemoryBytes {
	return &MemoryBytes{items: make(map[string][]byte)}
}

func (m *MemoryBytes) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.items[key] = cp
	m.writes++
	return nil
}

func (m *MemoryBytes) GetObject(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemoryBytes) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Writes reports how many PutObject calls happened (test helper).
func (m *MemoryBytes) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Has reports whether key exists (test helper).
func (m *MemoryBytes) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[key]
	return ok
}
