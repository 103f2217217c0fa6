package module

import (
	"plugin"
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
)

func errUnsupported(op string) error {
	return berrors.New(berrors.KindUnsupported, "module does not implement %s", op)
}

// initSymbolSuffix is appended to a module's name to form the exported
// symbol every module library must provide, "<moduleName>_bedrock_init" per
// specification §4.1. That symbol must be a func() Factory.
const initSymbolSuffix = "_bedrock_init"

// Registry is the process-wide Module Registry (specification §4.1). It is
// safe for concurrent use; registration is rejected for an already-used
// name, mirroring bittoy-rule's RuleComponentRegistry.Register, which
// returns an error rather than silently overwriting an existing component.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	libraries map[string]string // name -> library path used to load it
}

// NewRegistry returns an empty Module Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		libraries: make(map[string]string),
	}
}

// LoaderFunc resolves a module's init symbol to a Factory. The default,
// openPluginInit, uses Go's plugin package; tests substitute an in-memory
// loader since the "plugin" package cannot load anything outside a real
// shared-object build.
type LoaderFunc func(name, libraryPath string) (Factory, error)

// openPluginInit is the production LoaderFunc: it opens libraryPath (or the
// current process image, when libraryPath is empty) and looks up the
// registration symbol.
func openPluginInit(name, libraryPath string) (Factory, error) {
	var p *plugin.Plugin
	var err error
	if libraryPath == "" {
		p, err = plugin.Open("/proc/self/exe")
	} else {
		p, err = plugin.Open(libraryPath)
	}
	if err != nil {
		return nil, berrors.Wrap(berrors.KindModuleMissing, err, "opening library for module %q", name)
	}
	sym, err := p.Lookup(name + initSymbolSuffix)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindModuleMissing, err, "symbol %s%s not found", name, initSymbolSuffix)
	}
	initFn, ok := sym.(func() Factory)
	if !ok {
		return nil, berrors.New(berrors.KindModuleMissing, "symbol %s%s has unexpected type", name, initSymbolSuffix)
	}
	return initFn(), nil
}

// Load opens the library at libraryPath (empty means the current process
// image) and records its factory under name. Multiple names may map to the
// same library, each triggering its own symbol lookup.
func (r *Registry) Load(name, libraryPath string) error {
	return r.LoadWith(name, libraryPath, openPluginInit)
}

// LoadWith is Load with an injectable loader, used by tests and by
// in-process modules that register themselves via RegisterFactory instead
// of going through a real shared object.
func (r *Registry) LoadWith(name, libraryPath string, loader LoaderFunc) error {
	r.mu.Lock()
	if _, exists := r.factories[name]; exists {
		r.mu.Unlock()
		return berrors.New(berrors.KindNameCollision, "module %q already registered", name)
	}
	r.mu.Unlock()

	factory, err := loader(name, libraryPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return berrors.New(berrors.KindNameCollision, "module %q already registered", name)
	}
	r.factories[name] = factory
	r.libraries[name] = libraryPath
	return nil
}

// RegisterFactory records an already-constructed factory directly, used by
// in-image modules and tests that don't need Go's plugin loader at all.
func (r *Registry) RegisterFactory(name string, factory Factory) error {
	return r.LoadWith(name, "", func(string, string) (Factory, error) { return factory, nil })
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// MustLookup returns the factory registered under name, or a ModuleMissing
// error when none is registered.
func (r *Registry) MustLookup(name string) (Factory, error) {
	f, ok := r.Lookup(name)
	if !ok {
		return nil, berrors.New(berrors.KindModuleMissing, "module %q not loaded", name)
	}
	return f, nil
}

// List returns the names of every loaded module.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// LibraryOf returns the library path a module was loaded from.
func (r *Registry) LibraryOf(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.libraries[name]
	return path, ok
}

// Dependencies delegates to the named factory's Dependencies hook.
func (r *Registry) Dependencies(moduleName, config string) ([]DependencyDeclaration, error) {
	f, err := r.MustLookup(moduleName)
	if err != nil {
		return nil, err
	}
	decls, err := f.Dependencies(config)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindFactoryFailed, err, "module %q: dependencies()", moduleName)
	}
	return decls, nil
}

// Libraries returns a JSON-serializable map of module name to library path,
// matching the configuration document's top-level "libraries" key.
func (r *Registry) Libraries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.libraries))
	for k, v := range r.libraries {
		out[k] = v
	}
	return out
}
