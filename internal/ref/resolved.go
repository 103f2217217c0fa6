package ref

// Entry is one resolved dependency bound into a slot. Owned distinguishes a
// reference this resolution retained itself (and so must release on
// teardown) from one borrowed from elsewhere and released by its owner,
// mirroring the original implementation's DependencyWrapper ownership flag
// (_examples/original_source/include/bedrock/DependencyWrapper.hpp).
type Entry struct {
	Dep   *Named
	Owned bool
}

// ResolvedSet is the full set of a component instance's resolved
// dependencies, keyed by slot name to an ordered list of entries — the
// specification's "resolved-dependencies: map<slot-name, ordered
// list<NamedDependency>>", grounded on the original's DependencyMap.
type ResolvedSet map[string][]Entry

// Add appends an entry to a slot, creating the slot's list if necessary.
func (r ResolvedSet) Add(slot string, dep *Named, owned bool) {
	r[slot] = append(r[slot], Entry{Dep: dep, Owned: owned})
}

// Handles returns the opaque handles bound to a slot, in order — the shape
// a module factory expects to receive its resolved arguments in.
func (r ResolvedSet) Handles(slot string) []interface{} {
	entries := r[slot]
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		out[i] = e.Dep.Handle()
	}
	return out
}

// ReleaseAll drops every owned reference in the set. Called on teardown, or
// to roll back a partially-resolved set when a factory's register call
// fails (spec §7: "roll back any partially resolved dependencies by
// dropping the reference-counted wrappers before surfacing").
func (r ResolvedSet) ReleaseAll() {
	for _, entries := range r {
		for _, e := range entries {
			if e.Owned {
				e.Dep.Release()
			}
		}
	}
}
