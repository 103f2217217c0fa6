// Package provider implements the Provider Manager (specification §4.7):
// the ordered vector of provider instances, with unique-name and unique
// (type, provider_id) enforcement, condition-variable-style lookup waits,
// and factory hooks invoked outside the manager's mutex. Grounded on
// giantswarm-muster's internal/serviceclass instance-tracking pattern
// (mutex-guarded slice plus a notify channel woken on every mutation),
// adapted here to the specification's provider/client identity rules.
package provider

import (
	"context"
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/module"
	"github.com/bedrock-hpc/bedrock/internal/ref"
)

// Descriptor is the RPC-facing identity of a provider instance
// (specification §6 "lookup_provider" / "list_providers"), supplemented
// from the original implementation's ProviderDescriptor
// (_examples/original_source/include/bedrock/ProviderDescriptor.hpp).
type Descriptor struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ProviderID uint16 `json:"provider_id"`
}

// Instance is one live provider (specification §3 "Component Instance
// (Provider)"). self wraps the factory handle as a Named Dependency: its
// reference count is the number of other instances that resolved a
// dependency onto this provider, plus one held by the manager's own vector.
// Deregistration is rejected while that count exceeds one.
type Instance struct {
	Name         string
	Type         string
	ProviderID   uint16
	Pool         string
	Tags         []string
	Dependencies ref.ResolvedSet // slots this instance itself resolved
	Config       string

	self *ref.Named
}

// Handle returns the provider's opaque factory handle.
func (i *Instance) Handle() interface{} { return i.self.Handle() }

// Self returns the Named Dependency wrapping this instance, for the
// Dependency Resolver to retain when another instance binds to it.
func (i *Instance) Self() *ref.Named { return i.self }

// Descriptor returns this instance's RPC-facing identity.
func (i *Instance) Descriptor() Descriptor {
	return Descriptor{Name: i.Name, Type: i.Type, ProviderID: i.ProviderID}
}

// Resolver is the narrow slice of the Dependency Resolver (specification
// §4.6) the Provider Manager needs, kept local to avoid an import cycle
// between this package and internal/depgraph, which itself depends on
// Manager to perform local-by-name/by-type-id lookups.
type Resolver interface {
	Resolve(decl module.DependencyDeclaration, specs []string) ([]ref.Entry, error)
}

// Description is the JSON-validated input to AddProvider (specification
// §6's start_provider fields).
type Description struct {
	Name         string
	Type         string
	ProviderID   *uint16
	Pool         string
	Config       string
	Tags         []string
	Dependencies map[string][]string
}

// Manager owns the ordered vector of provider instances.
type Manager struct {
	registry     *module.Registry
	engineHandle interface{}

	mu        sync.Mutex
	cond      *sync.Cond
	instances []*Instance
}

// NewManager creates an empty Provider Manager backed by registry for
// factory and dependency-schema lookups. engineHandle is threaded into every
// factory's RegisterArgs so modules can reach the engine they were started
// on.
func NewManager(registry *module.Registry, engineHandle interface{}) *Manager {
	m := &Manager{registry: registry, engineHandle: engineHandle}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// AddProvider implements specification §4.7's addProvider: validates
// uniqueness, allocates a provider id when unspecified, resolves declared
// dependencies, invokes the factory's register hook outside the mutex, and
// appends the new instance on success.
func (m *Manager) AddProvider(desc Description, resolver Resolver) (Descriptor, error) {
	factory, err := m.registry.MustLookup(desc.Type)
	if err != nil {
		return Descriptor{}, err
	}

	m.mu.Lock()
	for _, inst := range m.instances {
		if inst.Name == desc.Name {
			m.mu.Unlock()
			return Descriptor{}, berrors.New(berrors.KindNameCollision, "provider %q already exists", desc.Name)
		}
	}
	providerID, err := m.allocateProviderIDLocked(desc.Type, desc.ProviderID)
	if err != nil {
		m.mu.Unlock()
		return Descriptor{}, err
	}
	m.mu.Unlock()

	decls, err := factory.Dependencies(desc.Config)
	if err != nil {
		return Descriptor{}, berrors.Wrap(berrors.KindFactoryFailed, err, "provider %q: dependencies()", desc.Name)
	}

	resolved, err := resolveAll(decls, desc.Dependencies, resolver)
	if err != nil {
		return Descriptor{}, err
	}

	args := module.RegisterArgs{
		Name:         desc.Name,
		EngineHandle: m.engineHandle,
		ProviderID:   providerID,
		Pool:         desc.Pool,
		Config:       desc.Config,
		Tags:         desc.Tags,
		Dependencies: resolved,
	}
	handle, err := factory.Register(args)
	if err != nil {
		resolved.ReleaseAll()
		return Descriptor{}, berrors.Wrap(berrors.KindFactoryFailed, err, "registering provider %q", desc.Name)
	}

	inst := &Instance{
		Name:         desc.Name,
		Type:         desc.Type,
		ProviderID:   providerID,
		Pool:         desc.Pool,
		Tags:         desc.Tags,
		Dependencies: resolved,
		Config:       desc.Config,
	}
	inst.self = ref.New(desc.Name, desc.Type, handle, func() { _ = factory.Deregister(handle) })

	m.mu.Lock()
	for _, existing := range m.instances {
		if existing.Type == inst.Type && existing.ProviderID == inst.ProviderID {
			m.mu.Unlock()
			resolved.ReleaseAll()
			inst.self.Release()
			return Descriptor{}, berrors.New(berrors.KindNameCollision, "provider (%s, %d) already exists", inst.Type, inst.ProviderID)
		}
	}
	m.instances = append(m.instances, inst)
	m.cond.Broadcast()
	m.mu.Unlock()

	return inst.Descriptor(), nil
}

// resolveAll resolves every declared dependency slot, enforcing arity and
// required-ness, rolling back any references already acquired when a later
// slot fails (specification §4.7 step 3 / §7 rollback requirement).
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

// allocateProviderIDLocked returns want if set, after checking it is free
// for typ, or the lowest unused id in [0, 65535] otherwise. Caller holds m.mu.
func (m *Manager) allocateProviderIDLocked(typ string, want *uint16) (uint16, error) {
	used := make(map[uint16]bool)
	for _, inst := range m.instances {
		if inst.Type == typ {
			used[inst.ProviderID] = true
		}
	}
	if want != nil {
		if used[*want] {
			return 0, berrors.New(berrors.KindNameCollision, "provider (%s, %d) already exists", typ, *want)
		}
		return *want, nil
	}
	for id := 0; id <= 65535; id++ {
		if !used[uint16(id)] {
			return uint16(id), nil
		}
	}
	return 0, berrors.New(berrors.KindUnsupported, "no free provider id for type %q", typ)
}

// locateLocked finds an instance by name.
func (m *Manager) locateLocked(spec string) (*Instance, int) {
	for i, inst := range m.instances {
		if inst.Name == spec {
			return inst, i
		}
	}
	return nil, -1
}

func (m *Manager) locateByTypeIDLocked(typ string, id uint16) (*Instance, int) {
	for i, inst := range m.instances {
		if inst.Type == typ && inst.ProviderID == id {
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
// Resolver (specification §4.6 step 3), returning the target instance's
// Named Dependency so the caller can Retain it.
func (m *Manager) ResolveLocal(name string) (*ref.Named, bool) {
	inst, ok := m.GetByName(name)
	if !ok {
		return nil, false
	}
	return inst.self, true
}

// ResolveLocalByTypeID implements the local-by-(type,id) branch of the
// Dependency Resolver (specification §4.6 step 3).
func (m *Manager) ResolveLocalByTypeID(typ string, id uint16) (*ref.Named, bool) {
	inst, ok := m.GetByTypeID(typ, id)
	if !ok {
		return nil, false
	}
	return inst.self, true
}

// GetByTypeID returns the instance identified by (type, provider id).
func (m *Manager) GetByTypeID(typ string, id uint16) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, idx := m.locateByTypeIDLocked(typ, id)
	return inst, idx >= 0
}

// NumProviders returns the number of live provider instances.
func (m *Manager) NumProviders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// ListProviders returns the descriptors of every live provider, ordered by
// insertion (specification: "providers added via the same RPC list observe
// array order").
func (m *Manager) ListProviders() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Descriptor, len(m.instances))
	for i, inst := range m.instances {
		out[i] = inst.Descriptor()
	}
	return out
}

// DeregisterProvider locates an instance by name or by (type, id) and
// destroys it, rejecting the removal while another instance still holds a
// reference onto it.
func (m *Manager) DeregisterProvider(spec string, typ string, id uint16, byTypeID bool) error {
	m.mu.Lock()
	var inst *Instance
	var idx int
	if byTypeID {
		inst, idx = m.locateByTypeIDLocked(typ, id)
	} else {
		inst, idx = m.locateLocked(spec)
	}
	if idx < 0 {
		m.mu.Unlock()
		return berrors.New(berrors.KindDependencyUnresolved, "provider %q not found", spec)
	}
	if inst.self.RefCount() > 1 {
		m.mu.Unlock()
		return berrors.New(berrors.KindDependencyInUse, "provider %q is still referenced by another instance", inst.Name)
	}
	m.instances = append(m.instances[:idx], m.instances[idx+1:]...)
	m.cond.Broadcast()
	m.mu.Unlock()

	inst.Dependencies.ReleaseAll()
	inst.self.Release()
	return nil
}

// ChangeProviderPool calls the factory's optional change_pool hook.
func (m *Manager) ChangeProviderPool(name, newPool string, registry *module.Registry) error {
	inst, ok := m.GetByName(name)
	if !ok {
		return berrors.New(berrors.KindDependencyUnresolved, "provider %q not found", name)
	}
	factory, err := registry.MustLookup(inst.Type)
	if err != nil {
		return err
	}
	if err := factory.ChangePool(inst.Handle(), newPool); err != nil {
		return err
	}
	inst.Pool = newPool
	return nil
}

// MigrateProvider delegates to the factory's optional migrate hook.
func (m *Manager) MigrateProvider(name, destAddress string, destProviderID uint16, migrationConfig string, removeSource bool, registry *module.Registry) error {
	inst, ok := m.GetByName(name)
	if !ok {
		return berrors.New(berrors.KindDependencyUnresolved, "provider %q not found", name)
	}
	factory, err := registry.MustLookup(inst.Type)
	if err != nil {
		return err
	}
	return factory.Migrate(inst.Handle(), destAddress, destProviderID, migrationConfig, removeSource)
}

// SnapshotProvider delegates to the factory's optional snapshot hook.
func (m *Manager) SnapshotProvider(name, destPath, snapshotConfig string, removeSource bool, registry *module.Registry) error {
	inst, ok := m.GetByName(name)
	if !ok {
		return berrors.New(berrors.KindDependencyUnresolved, "provider %q not found", name)
	}
	factory, err := registry.MustLookup(inst.Type)
	if err != nil {
		return err
	}
	return factory.Snapshot(inst.Handle(), destPath, snapshotConfig, removeSource)
}

// RestoreProvider delegates to the factory's optional restore hook.
func (m *Manager) RestoreProvider(name, srcPath, restoreConfig string, registry *module.Registry) error {
	inst, ok := m.GetByName(name)
	if !ok {
		return berrors.New(berrors.KindDependencyUnresolved, "provider %q not found", name)
	}
	factory, err := registry.MustLookup(inst.Type)
	if err != nil {
		return err
	}
	return factory.Restore(inst.Handle(), srcPath, restoreConfig)
}

// AddProviderListFromJSON applies AddProvider to each description in order,
// aborting the whole batch on the first failure (specification §4.7
// addProviderListFromJSON).
func (m *Manager) AddProviderListFromJSON(descs []Description, resolver Resolver) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		desc, err := m.AddProvider(d, resolver)
		if err != nil {
			return out, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// WaitForAppearance blocks until a provider matching pred exists or ctx is
// done, implementing the condition-variable lookup wait of specification
// §5 ("providerLookup condition wait for appearance"). Used by the
// Dependency Resolver's remote provider-lookup RPC handler.
func (m *Manager) WaitForAppearance(ctx context.Context, pred func(*Instance) bool) (*Instance, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		for _, inst := range m.instances {
			if pred(inst) {
				return inst, nil
			}
		}
		if ctx.Err() != nil {
			return nil, berrors.New(berrors.KindRemoteLookupFailed, "provider lookup timed out")
		}
		m.cond.Wait()
	}
}
