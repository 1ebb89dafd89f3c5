// Package storage implements per-replica, per-client mutable state
// (spec.md §4.2): a map from Replica to an arbitrary value type, mutated
// only through compare-and-set-like operations, plus a Registry that
// hands out one such map per (scope, namespace) pair.
//
// Per spec.md's own design note, values are not stored in a single
// heterogeneous container. Each modifier namespace gets its own
// *Typed[V]; the Registry only erases types at the boundary between
// namespaces, never within one.
package storage

import (
	"sync"

	"github.com/obiwan-smirnobi/clusterclient.core/replica"
)

// Typed is a concurrent map from Replica to V, guaranteeing no lost
// update under concurrent access. All mutation goes through TryAdd,
// TryUpdate or GetOrAdd; there is deliberately no plain Set, so that
// every write site has to reckon with contention.
type Typed[V comparable] struct {
	mu     sync.Mutex
	values map[replica.Replica]V
}

// NewTyped creates an empty Typed store.
func NewTyped[V comparable]() *Typed[V] {
	return &Typed[V]{values: make(map[replica.Replica]V)}
}

// Get returns the value stored for r, if any.
func (t *Typed[V]) Get(r replica.Replica) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[r]
	return v, ok
}

// TryAdd stores value for r only if no value is currently stored there.
// It returns true if the add succeeded.
func (t *Typed[V]) TryAdd(r replica.Replica, value V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.values[r]; ok {
		return false
	}
	t.values[r] = value
	return true
}

// TryUpdate replaces the value stored for r with newValue, but only if
// the value currently stored equals expectedOld. It returns true if the
// update succeeded; false signals contention, and the caller must re-read
// via Get and retry its decision.
func (t *Typed[V]) TryUpdate(r replica.Replica, newValue, expectedOld V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.values[r]
	if !ok || current != expectedOld {
		return false
	}
	t.values[r] = newValue
	return true
}

// GetOrAdd returns the value stored for r, creating it via factory if
// absent. factory may be invoked more than once under contention, but
// exactly one produced value is ever installed and returned to every
// caller racing to create it.
func (t *Typed[V]) GetOrAdd(r replica.Replica, factory func() V) V {
	t.mu.Lock()
	if v, ok := t.values[r]; ok {
		t.mu.Unlock()
		return v
	}
	t.mu.Unlock()

	candidate := factory()

	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.values[r]; ok {
		return v
	}
	t.values[r] = candidate
	return candidate
}

// Scope selects whether a Typed store is shared across every request on a
// client (Process) or created fresh for each request (Request).
type Scope int

const (
	// Process shares one storage instance across all requests on the
	// same client, for the lifetime of the client.
	Process Scope = iota
	// Request creates a fresh storage instance per RequestContext.
	Request
)

// Registry hands out Typed stores, one per namespace, created lazily and
// cached for the Registry's lifetime. A client keeps one Registry for
// Process scope; reqctx.New creates a fresh Registry per request for
// Request scope.
type Registry struct {
	mu     sync.Mutex
	stores map[string]any
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]any)}
}

// Obtain returns reg's Typed[V] store for namespace,
// creating it on first use. Every call for the same namespace and the
// same V returns the identical instance.
func Obtain[V comparable](reg *Registry, namespace string) *Typed[V] {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.stores[namespace]; ok {
		return existing.(*Typed[V])
	}
	store := NewTyped[V]()
	reg.stores[namespace] = store
	return store
}
