package cache

import (
	"context"
	"strings"
	"sync"
)

// MemoryBackend keeps snapshots in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: map[string][]byte{}}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	value, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.records[key] = append([]byte(nil), value...)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.records {
		if strings.HasPrefix(key, prefix) {
			delete(b.records, key)
		}
	}
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
