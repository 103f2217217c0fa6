// Package engine adapts the external RPC engine (specification §4.3): an
// opaque transport providing addresses, pools, execution streams, and a
// request/response primitive. Bedrock's core never implements a transport
// itself — it only defines the Backend contract, a Loopback implementation
// used for single-process deployments and tests, and an HTTPBackend that
// carries RPCs across processes over plain HTTP, grounded on
// how the teacher (giantswarm-muster) keeps its MCP transport behind the
// internal/api handler interfaces rather than importing a transport
// directly into the composition logic.
package engine

import (
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/ref"
)

// Reserved type tags used by the Dependency Resolver (specification §4.6
// step 1) to recognize engine-level dependency targets instead of module
// names.
const (
	ReservedPool    = "pool"
	ReservedXstream = "xstream"
)

// Table is a named collection of engine-owned resources (a pool table or an
// execution-stream table). Names are unique within the table; removal is
// rejected while a wrapper's reference count exceeds one, per specification
// §4.3's invariants.
type Table struct {
	kind string // "pool" or "xstream", used in error messages only

	mu    sync.Mutex
	order []string
	byKey map[string]*ref.Named
}

// NewTable creates an empty table of the given kind ("pool" or "xstream").
func NewTable(kind string) *Table {
	return &Table{kind: kind, byKey: make(map[string]*ref.Named)}
}

// Add registers a new named resource. release is invoked by the wrapper's
// Release() once its reference count reaches zero, and must return the
// resource to the engine's own reference API exactly once, per
// specification §5's "release paths must call the engine's release exactly
// once".
func (t *Table) Add(name string, handle interface{}, release ref.ReleaseFunc) (*ref.Named, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byKey[name]; exists {
		return nil, berrors.New(berrors.KindNameCollision, "%s %q already exists", t.kind, name)
	}
	n := ref.New(name, t.kind, handle, release)
	t.byKey[name] = n
	t.order = append(t.order, name)
	return n, nil
}

// Get returns the wrapper registered under name.
func (t *Table) Get(name string) (*ref.Named, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byKey[name]
	return n, ok
}

// GetByIndex returns the wrapper at position idx in insertion order.
func (t *Table) GetByIndex(idx int) (*ref.Named, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.order) {
		return nil, false
	}
	return t.byKey[t.order[idx]], true
}

// GetByHandle linearly searches for the wrapper holding handle. Tables are
// expected to be small (a handful of pools/xstreams per process), so this
// mirrors the engine's own small-table assumption rather than introducing a
// second index.
func (t *Table) GetByHandle(handle interface{}) (*ref.Named, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range t.order {
		n := t.byKey[name]
		if n.Handle() == handle {
			return n, true
		}
	}
	return nil, false
}

// Count returns the number of resources currently registered.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// List returns the wrappers in insertion order.
func (t *Table) List() []*ref.Named {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ref.Named, len(t.order))
	for i, name := range t.order {
		out[i] = t.byKey[name]
	}
	return out
}

// Remove drops the entry by name. It fails with DependencyInUse when the
// wrapper's reference count is greater than one.
func (t *Table) Remove(name string) error {
	t.mu.Lock()
	n, exists := t.byKey[name]
	if !exists {
		t.mu.Unlock()
		return berrors.New(berrors.KindDependencyUnresolved, "%s %q not found", t.kind, name)
	}
	if n.RefCount() > 1 {
		t.mu.Unlock()
		return berrors.New(berrors.KindDependencyInUse, "%s %q is still referenced", t.kind, name)
	}
	delete(t.byKey, name)
	for i, candidate := range t.order {
		if candidate == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	n.Release()
	return nil
}

// RemoveByIndex removes the entry at position idx.
func (t *Table) RemoveByIndex(idx int) error {
	n, ok := t.GetByIndex(idx)
	if !ok {
		return berrors.New(berrors.KindDependencyUnresolved, "%s index %d not found", t.kind, idx)
	}
	return t.Remove(n.Name())
}

// RemoveByHandle removes the entry wrapping handle.
func (t *Table) RemoveByHandle(handle interface{}) error {
	n, ok := t.GetByHandle(handle)
	if !ok {
		return berrors.New(berrors.KindDependencyUnresolved, "%s handle not found", t.kind)
	}
	return t.Remove(n.Name())
}
