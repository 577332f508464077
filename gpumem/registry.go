package gpumem

import "sync"

// key identifies one array within a run: the node that produced it and
// which field it carries.
type key struct {
	node  uint64
	field uint8
}

// Registry interns arrays keyed by (node, field) for the lifetime of one
// graph run, pinning them so an array produced in iteration k is not
// freed before the run completes on-device. Arrays are
// stored as `any` here since Registry is shared across nodes producing
// different element types; callers type-assert back to *Array[T].
type Registry struct {
	mu   sync.Mutex
	refs map[key]any
}

// NewRegistry creates an empty registry for one run.
func NewRegistry() *Registry {
	return &Registry{refs: make(map[key]any)}
}

// Intern stores (or returns the existing) array for (nodeID, fieldTag).
// The factory runs only on first access for this key.
func Intern[T any](r *Registry, nodeID uint64, fieldTag uint8, factory func() *Array[T]) *Array[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{node: nodeID, field: fieldTag}
	if existing, ok := r.refs[k]; ok {
		return existing.(*Array[T])
	}
	arr := factory()
	r.refs[k] = arr
	return arr
}

// Release drops every array pinned by this registry. The graph scheduler
// does not call it; a caller that is done with a run's arrays may.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = make(map[key]any)
}

// Len reports how many distinct arrays are currently pinned, for tests
// and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}
