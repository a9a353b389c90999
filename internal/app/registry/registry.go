// Package registry provides a thread-safe map of per-guild state.
package registry

import (
	"sort"
	"sync"
)

// Registry maps guild IDs to lazily-created state values.
type Registry[V comparable] struct {
	mu      sync.RWMutex
	entries map[string]V
	factory func(id string) V
}

// New creates a registry that builds missing entries with factory.
func New[V comparable](factory func(id string) V) *Registry[V] {
	return &Registry[V]{
		entries: make(map[string]V),
		factory: factory,
	}
}

// GetOrCreate returns the existing entry or constructs and stores a fresh one.
// The factory runs under the write lock, so a racing caller never observes
// a partially constructed value.
func (r *Registry[V]) GetOrCreate(id string) V {
	r.mu.RLock()
	v, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again, another caller may have created it
	if v, ok := r.entries[id]; ok {
		return v
	}
	v = r.factory(id)
	r.entries[id] = v
	return v
}

// Get retrieves an entry without creating it.
func (r *Registry[V]) Get(id string) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.entries[id]
	return v, ok
}

// RemoveIf deletes the entry for id only if it is still v.
// Returns true if the entry was removed.
func (r *Registry[V]) RemoveIf(id string, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[id]
	if !ok || cur != v {
		return false
	}
	delete(r.entries, id)
	return true
}

// Keys returns all guild IDs in sorted order.
func (r *Registry[V]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for id := range r.entries {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// Values returns all entries.
func (r *Registry[V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]V, 0, len(r.entries))
	for _, v := range r.entries {
		result = append(result, v)
	}
	return result
}
