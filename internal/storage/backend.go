package storage

import (
	"context"
	"sort"
	"sync"
)

// KV is one backend record: a flat encoded key and its value bytes.
type KV struct {
	Key   string
	Value []byte
}

// Backend is the durable key/value store behind the chunk adapter. Get
// returns (nil, nil) when the key is absent. List and DeleteRange operate on
// the half-open range [start, end) in byte order.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, start, end string) ([]KV, error)
	DeleteRange(ctx context.Context, start, end string) error
}

// MemoryBackend is a map-based Backend used in tests and single-node dev
// runs.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string][]byte)}
}

func (m *MemoryBackend) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.items[key] = cp
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
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

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, start, end string) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []KV
	for k, v := range m.items {
		if k >= start && k < end {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, KV{Key: k, Value: cp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryBackend) DeleteRange(ctx context.Context, start, end string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if k >= start && k < end {
			delete(m.items, k)
		}
	}
	return nil
}

// Len reports the number of stored records (test helper).
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
