package handle

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// Map holds host values referenced from native code by integer handle.
// Handles come from a 64-bit counter and are never reused.
type Map[T any] struct {
	items   map[uint64]T
	counter atomix.Uint64
	mu      sync.RWMutex
}

// NewMap creates an empty map.
func NewMap[T any]() *Map[T] {
	return &Map[T]{items: make(map[uint64]T, 16)}
}

// Insert stores v under a fresh handle.
func (m *Map[T]) Insert(v T) uint64 {
	h := m.counter.Add(1)

	m.mu.Lock()
	m.items[h] = v
	m.mu.Unlock()
	return h
}

// Get returns the value stored under h.
func (m *Map[T]) Get(h uint64) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[h]
	return v, ok
}

// Remove deletes h and returns the value it held.
func (m *Map[T]) Remove(h uint64) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[h]
	if ok {
		delete(m.items, h)
	}
	return v, ok
}

// Len returns the number of stored values.
func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Values returns a snapshot of the stored values.
func (m *Map[T]) Values() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}
	return out
}
