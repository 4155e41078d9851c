package checkpoint

import (
	"context"
	"sync"

	"github.com/jackzampolin/tabextract/internal/extract"
)

// MemoryStore keeps results in a map. Useful for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[int]extract.Result
	appends int

	// FailAppend, when set, is returned by every Append.
	FailAppend error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[int]extract.Result)}
}

func (m *MemoryStore) Read(_ context.Context, index int) (extract.Result, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[index]
	return r, ok, nil
}

func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return m.FailAppend
	}
	m.results[rec.Index] = rec.Result
	m.appends++
	return nil
}

func (m *MemoryStore) ListFinalized(_ context.Context) (map[int]extract.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]extract.Result, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out, nil
}

// Appends returns how many records were written.
func (m *MemoryStore) Appends() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appends
}

func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
