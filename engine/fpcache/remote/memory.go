package remote

import (
	"context"
	"sync"
)

// MemoryCache is an in-memory remote.Cache, for tests and single-process
// use where no real remote backend is wanted.
type MemoryCache struct {
	mu      sync.RWMutex
	payload map[string][]byte
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{payload: make(map[string][]byte)}
}

func (m *MemoryCache) Get(_ context.Context, fingerprint string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payload[fingerprint]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, true, nil
}

func (m *MemoryCache) Put(_ context.Context, fingerprint string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.payload[fingerprint] = stored
	return nil
}
