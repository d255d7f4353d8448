// Package types contains small generic containers shared by the engine packages.
package types

import (
	"iter"
	"slices"
	"sync"
)

// CallbackManager keeps an ordered set of callbacks that can be removed individually.
// It is safe for concurrent use.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	cbs    []callback[T]
	nextID uint64
}

type callback[T any] struct {
	id uint64
	cb T
}

// Len returns the number of registered callbacks.
func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cbs)
}

// Add registers the callback and returns a function that removes it.
// The remove function may be called several times.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.cbs = append(m.cbs, callback[T]{id, cb})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.cbs = slices.DeleteFunc(m.cbs, func(c callback[T]) bool { return c.id == id })
			m.mu.Unlock()
		})
	}
}

// All iterates over a snapshot of callbacks in registration order.
// Callbacks may add or remove callbacks while iterating.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		snapshot := make([]T, len(m.cbs))
		for i, c := range m.cbs {
			snapshot[i] = c.cb
		}
		m.mu.RUnlock()

		for _, cb := range snapshot {
			if !yield(cb) {
				return
			}
		}
	}
}
