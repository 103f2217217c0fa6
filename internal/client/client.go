// Package client implements the Client Manager (specification §4.8): the
// same ordered-vector shape as the Provider Manager, minus provider ids and
// pools, plus the anonymous-client convenience rule. Grounded on
// internal/provider.Manager, which this package otherwise mirrors member
// for member.
package client

import (
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/module"
	"github.com/bedrock-hpc/bedrock/internal/ref"
)

// Descriptor is the RPC-facing identity of a client instance (specification
// §6 "lookup_client" / "list_clients").
type Descriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Instance is one live client (specification §3 "Component Instance
// (Client)"), addressable by the same dependency-resolver grammar as a
// provider minus ":id" (specification §4.8), so it carries the same
// self-refcount a provider does.
type Instance struct {
	Name         string
	Type         string
	Tags         []string
	Dependencies ref.ResolvedSet
	Config       string

	self *ref.Named
}

// Handle returns the client's opaque factory handle.
func (i *Instance) Handle() interface{} { return i.self.Handle() }

// Self returns the Named Dependency wrapping this instance.
func (i *Instance) Self() *ref.Named { return i.self }

// Descriptor returns this instance's RPC-facing identity.
func (i *Instance) Descriptor() Descriptor { return Descriptor{Name: i.Name, Type: i.Type} }

// Resolver mirrors internal/provider.Resolver; kept as a separate type so
// this package has no import on internal/provider.
type Resolver interface {
	Resolve(decl module.DependencyDeclaration, specs []string) ([]ref.Entry, error)
}

// Description is the JSON-validated input to AddClient (specification §6's
// add_client fields).
type Description struct {
	Name         string
	Type         string
	Config       string
	Tags         []string
	Dependencies map[string][]string
}

// canonicalAnonymousName returns the name getOrCreateAnonymous assigns to a
// type's first auto-created client (specification §4.8).
func canonicalAnonymousName(typ string) string { return "__" + typ + "_client__" }

// Manager owns the ordered vector of client instances.
type Manager struct {
	registry     *module.Registry
	engineHandle interface{}

	mu        sync.Mutex
	instances []*Instance
}

// NewManager creates an empty Client Manager. engineHandle is threaded into
// every factory's ClientArgs.
func NewManager(registry *module.Registry, engineHandle interface{}) *Manager {
	return &Manager{registry: registry, engineHandle: engineHandle}
}

// AddClient validates uniqueness, resolves declared dependencies, and
// invokes the factory's init_client hook.
func (m *Manager) AddClient(desc Description, resolver Resolver) (Descriptor, error) {
	factory, err := m.registry.MustLookup(desc.Type)
	if err != nil {
		return Descriptor{}, err
	}

	m.mu.Lock()
	for _, inst := range m.instances {
		if inst.Name == desc.Name {
			m.mu.Unlock()
			return Descriptor{}, berrors.New(berrors.KindNameCollision, "client %q already exists", desc.Name)
		}
	}
	m.mu.Unlock()

	decls, err := factory.Dependencies(desc.Config)
	if err != nil {
		return Descriptor{}, berrors.Wrap(berrors.KindFactoryFailed, err, "client %q: dependencies()", desc.Name)
	}
	resolved, err := resolveAll(decls, desc.Dependencies, resolver)
	if err != nil {
		return Descriptor{}, err
	}

	args := module.ClientArgs{
		Name:         desc.Name,
		EngineHandle: m.engineHandle,
		Config:       desc.Config,
		Tags:         desc.Tags,
		Dependencies: resolved,
	}
	handle, err := factory.InitClient(args)
	if err != nil {
		resolved.ReleaseAll()
		return Descriptor{}, berrors.Wrap(berrors.KindFactoryFailed, err, "initializing client %q", desc.Name)
	}

	inst := &Instance{
		Name:         desc.Name,
		Type:         desc.Type,
		Tags:         desc.Tags,
		Dependencies: resolved,
		Config:       desc.Config,
	}
	inst.self = ref.New(desc.Name, desc.Type, handle, func() { _ = factory.FinalizeClient(handle) })

	m.mu.Lock()
	for _, existing := range m.instances {
		if existing.Name == inst.Name {
			m.mu.Unlock()
			resolved.ReleaseAll()
			inst.self.Release()
			return Descriptor{}, berrors.New(berrors.KindNameCollision, "client %q already exists", inst.Name)
		}
	}
	m.instances = append(m.instances, inst)
	m.mu.Unlock()

	return inst.Descriptor(), nil
}

func resolveAll(decls []module.DependencyDeclaration, specs map[string][]string, resolver Resolver) (ref.ResolvedSet, error) {
	resolved := make(ref.ResolvedSet)
	for _, decl := range decls {
		values := specs[decl.Name]
		if len(values) == 0 {
			if decl.IsRequired {
				resolved.ReleaseAll()
				return nil, berrors.New(berrors.KindDependencyUnresolved, "required dependency %q not provided", decl.Name)
			}
			continue
		}
		if !decl.IsArray && len(values) > 1 {
			resolved.ReleaseAll()
			return nil, berrors.New(berrors.KindConfigInvalid, "dependency %q does not accept multiple entries", decl.Name)
		}
		entries, err := resolver.Resolve(decl, values)
		if err != nil {
			resolved.ReleaseAll()
			return nil, err
		}
		resolved[decl.Name] = entries
	}
	return resolved, nil
}

// hasRequiredDependencies reports whether typ's client schema declares any
// required slot, evaluated against an empty configuration — used by
// GetOrCreateAnonymous to decide whether auto-creation is legal
// (specification §4.8: "only when the type's client schema declares no
// required dependencies").
func (m *Manager) hasRequiredDependencies(typ string) (bool, error) {
	factory, err := m.registry.MustLookup(typ)
	if err != nil {
		return false, err
	}
	decls, err := factory.Dependencies("")
	if err != nil {
		return false, berrors.Wrap(berrors.KindFactoryFailed, err, "type %q: dependencies()", typ)
	}
	for _, d := range decls {
		if d.IsRequired {
			return true, nil
		}
	}
	return false, nil
}

// GetOrCreateAnonymous returns the first client of typ, or creates one
// under the canonical name "__<type>_client__" when none exists and typ's
// schema declares no required dependencies.
func (m *Manager) GetOrCreateAnonymous(typ string, resolver Resolver) (Descriptor, error) {
	m.mu.Lock()
	for _, inst := range m.instances {
		if inst.Type == typ {
			desc := inst.Descriptor()
			m.mu.Unlock()
			return desc, nil
		}
	}
	m.mu.Unlock()

	required, err := m.hasRequiredDependencies(typ)
	if err != nil {
		return Descriptor{}, err
	}
	if required {
		return Descriptor{}, berrors.New(berrors.KindDependencyUnresolved, "type %q cannot be auto-instantiated: required dependencies declared", typ)
	}

	return m.AddClient(Description{Name: canonicalAnonymousName(typ), Type: typ}, resolver)
}

func (m *Manager) locateLocked(name string) (*Instance, int) {
	for i, inst := range m.instances {
		if inst.Name == name {
			return inst, i
		}
	}
	return nil, -1
}

// GetByName returns the instance named name.
func (m *Manager) GetByName(name string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, idx := m.locateLocked(name)
	return inst, idx >= 0
}

// ResolveLocal implements the local-by-name branch of the Dependency
// Resolver (specification §4.6 step 3) for client targets.
func (m *Manager) ResolveLocal(name string) (*ref.Named, bool) {
	inst, ok := m.GetByName(name)
	if !ok {
		return nil, false
	}
	return inst.self, true
}

// NumClients returns the number of live client instances.
func (m *Manager) NumClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// ListClients returns the descriptors of every live client, in insertion
// order.
func (m *Manager) ListClients() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Descriptor, len(m.instances))
	for i, inst := range m.instances {
		out[i] = inst.Descriptor()
	}
	return out
}

// FinalizeClient destroys the named client, rejecting the removal while
// another instance still holds a reference onto it, and releases what it
// itself depends on.
func (m *Manager) FinalizeClient(name string) error {
	m.mu.Lock()
	inst, idx := m.locateLocked(name)
	if idx < 0 {
		m.mu.Unlock()
		return berrors.New(berrors.KindDependencyUnresolved, "client %q not found", name)
	}
	if inst.self.RefCount() > 1 {
		m.mu.Unlock()
		return berrors.New(berrors.KindDependencyInUse, "client %q is still referenced by another instance", inst.Name)
	}
	m.instances = append(m.instances[:idx], m.instances[idx+1:]...)
	m.mu.Unlock()

	inst.Dependencies.ReleaseAll()
	inst.self.Release()
	return nil
}
