// Package safemap provides a generic concurrent map on top of sync.Map with
// an O(1) entry count. The relay uses it for its table of live connections
// and for per-connection protocol state.
package safemap

import (
	"sync"
	"sync/atomic"
)

// SafeMap is a concurrent map safe for use by multiple goroutines. It suits
// the relay's access pattern: each key is written by few goroutines and read
// by many. SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m sync.Map
	n atomic.Int64
}

// NewSafeMap returns an empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, replacing any previous value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *SafeMap[K, V]) Store(k K, v V) {
	if _, loaded := m.m.Swap(k, v); !loaded {
		m.n.Add(1)
	}
}

// Load returns the value stored for k.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value for k, or the zero value of V if absent
//   - true if k was present
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var zero V
		return zero, false
	}

	return v.(V), true
}

// LoadOrStore returns the existing value for k if present. Otherwise it
// stores v and returns it.
//
// Returns:
//   - The value now associated with k
//   - true if the value was already present, false if v was stored
func (m *SafeMap[K, V]) LoadOrStore(k K, v V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(k, v)
	if !loaded {
		m.n.Add(1)
	}

	return actual.(V), loaded
}

// LoadAndDelete removes k and returns the value it held. Of several
// concurrent callers for the same key exactly one sees true.
//
// Returns:
//   - The removed value, or the zero value of V if absent
//   - true if k was present
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, loaded := m.m.LoadAndDelete(k)
	if !loaded {
		var zero V
		return zero, false
	}

	m.n.Add(-1)
	return v.(V), true
}

// Delete removes k. Deleting an absent key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.LoadAndDelete(k)
}

// Has reports whether k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, found := m.m.Load(k)
	return found
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted concurrently may or may not be visited.
//
// Parameters:
//   - f: Function called for each entry; return false to stop
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Values returns a copy of every value currently stored, in no particular order.
func (m *SafeMap[K, V]) Values() []V {
	values := make([]V, 0, m.Len())
	m.Range(func(_ K, v V) bool {
		values = append(values, v)
		return true
	})

	return values
}

// Len returns the number of entries.
func (m *SafeMap[K, V]) Len() int {
	return int(m.n.Load())
}
