package strategy

import "sync"

// StateStore persists one scalar per (index, strategy) key across scans.
type StateStore interface {
	Get(key string) (float64, bool)
	Set(key string, v float64)
	// Swap stores v and returns the previous value, if any, in one critical section.
	Swap(key string, v float64) (float64, bool)
}

// MemoryState is a process-wide StateStore behind a single mutex.
type MemoryState struct {
	mu     sync.Mutex
	values map[string]float64
}

// NewMemoryState returns an empty store.
func NewMemoryState() *MemoryState {
	return &MemoryState{values: make(map[string]float64)}
}

func (m *MemoryState) Get(key string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryState) Set(key string, v float64) {
	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
}

func (m *MemoryState) Swap(key string, v float64) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.values[key]
	m.values[key] = v
	return prev, ok
}
