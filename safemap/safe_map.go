// Package safemap provides a type-safe, concurrent map built on sync.Map.
// SafeMap supports arbitrary comparable keys and any value type, with a
// consistent API for storing, loading, deleting, and iterating entries.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// It wraps sync.Map and exposes a generic, type-safe API.
//
// SafeMap must not be copied after first use. Store and Load operations
// are amortized O(1). Len, Values and Range are O(n) in the number of entries.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns a new, empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for key k, overwriting any existing value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value for key k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Get is an alias of Load.
func (m *SafeMap[K, V]) Get(k K) (V, bool) {
	return m.Load(k)
}

// LoadOrStore returns the existing value for k if present. Otherwise it
// stores v and returns it. The check and the store happen atomically.
//
// Parameters:
//   - k: The key
//   - v: The value to store if k is absent
//
// Returns:
//   - The existing value, or v if it was stored
//   - true if the value was already present, false if v was stored
func (m *SafeMap[K, V]) LoadOrStore(k K, v V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(k, v)
	return actual.(V), loaded
}

// LoadAndDelete removes k and returns the value it held.
//
// Returns:
//   - The removed value, or the zero value of V
//   - true if k was present
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, loaded := m.m.LoadAndDelete(k)
	if !loaded {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// CompareAndSwap replaces the value for k with newV only if it currently
// equals oldV. V must be a comparable type at run time or it panics.
//
// Returns:
//   - true if the swap happened
func (m *SafeMap[K, V]) CompareAndSwap(k K, oldV, newV V) bool {
	return m.m.CompareAndSwap(k, oldV, newV)
}

// Delete removes the entry for key k. Deleting a missing key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, Range stops the iteration. Range does not observe a
// consistent snapshot: entries stored or deleted concurrently may or may not
// be visited.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Values returns the values present in the map at the time of the call, in
// no particular order.
func (m *SafeMap[K, V]) Values() []V {
	var out []V
	m.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})

	return out
}

// Len returns the number of entries by iterating over the map.
func (m *SafeMap[K, V]) Len() int {
	length := 0
	m.Range(func(K, V) bool {
		length++
		return true
	})

	return length
}

// Has reports whether key k is present in the map.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, found := m.m.Load(k)
	return found
}
