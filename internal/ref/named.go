// Package ref implements the Named Dependency primitive from the
// specification's data model: every addressable runtime object exposes a
// name, a type tag, an opaque handle, and a release action invoked exactly
// once when the last reference drops. It is grounded on the reference-
// counted wrapper idiom described for the original mochi-bedrock
// NamedDependency/ProviderWrapper/ClientWrapper types
// (_examples/original_source/include/bedrock/NamedDependency.hpp), adapted
// to Go via an atomic counter and a sync.Once-guarded release callback.
package ref

import (
	"sync"
	"sync/atomic"
)

// ReleaseFunc returns a handle to its producing subsystem. It must be safe
// to call from any goroutine; it need not be idempotent, since Named
// guarantees it is invoked at most once.
type ReleaseFunc func()

// Named is a reference-counted wrapper around an opaque component handle.
// The zero value is not usable; construct with New.
type Named struct {
	name    string
	typ     string
	handle  interface{}
	count   int64
	release ReleaseFunc
	once    sync.Once
}

// New creates a Named dependency with an initial reference count of 1,
// representing the reference held by its creator.
func New(name, typ string, handle interface{}, release ReleaseFunc) *Named {
	if release == nil {
		release = func() {}
	}
	return &Named{name: name, typ: typ, handle: handle, count: 1, release: release}
}

// Name returns the dependency's name, unique within its kind.
func (n *Named) Name() string { return n.name }

// Type returns the dependency's type tag (module name or reserved tag).
func (n *Named) Type() string { return n.typ }

// Handle returns the opaque payload. Callers must type-assert it themselves;
// the wrapper never interprets it.
func (n *Named) Handle() interface{} { return n.handle }

// RefCount returns the current reference count. A removal attempt must be
// rejected whenever this is greater than 1 (spec: DependencyInUse).
func (n *Named) RefCount() int64 { return atomic.LoadInt64(&n.count) }

// Retain increments the reference count and returns the same wrapper, so
// call sites can write `dep = dep.Retain()` to make the extra reference
// explicit at the call site.
func (n *Named) Retain() *Named {
	atomic.AddInt64(&n.count, 1)
	return n
}

// Release drops one reference. When the count reaches zero the release
// action fires exactly once. Release is idempotent against a nil receiver
// so callers never need to nil-check before releasing.
func (n *Named) Release() {
	if n == nil {
		return
	}
	if atomic.AddInt64(&n.count, -1) <= 0 {
		n.once.Do(n.release)
	}
}
