// Package module implements the Module Registry (specification §4.1): it
// loads factories from shared libraries (or the current process image) and
// records them by name, enforcing the factory contract every module must
// satisfy. The registry's Register/Lookup/duplicate-rejection shape is
// grounded on bittoy-rule's engine/registry.go RuleComponentRegistry, which
// uses the same "reject on duplicate name, RWMutex-guarded map" pattern for
// its own component registry.
package module

import "github.com/bedrock-hpc/bedrock/internal/ref"

// DependencyDeclaration is one entry of a module's declared dependency
// schema (specification §3: "Dependency Declaration").
type DependencyDeclaration struct {
	Name        string
	Type        string
	IsArray     bool
	IsRequired  bool
	IsUpdatable bool
}

// RegisterArgs bundles everything a factory needs to construct a provider
// instance, mirroring the original implementation's ModuleContext
// (_examples/original_source/include/bedrock/ModuleContext.hpp), which
// threads engine+pool+provider-id+config as one record instead of
// positional parameters.
type RegisterArgs struct {
	Name         string
	EngineHandle interface{}
	ProviderID   uint16
	Pool         string
	Config       string
	Tags         []string
	Dependencies ref.ResolvedSet
}

// ClientArgs bundles the arguments passed to a factory's init_client hook.
type ClientArgs struct {
	Name         string
	EngineHandle interface{}
	Config       string
	Tags         []string
	Dependencies ref.ResolvedSet
}

// Factory is the contract every module implements (specification §4.1).
// Optional operations return a berrors.KindUnsupported error when a module
// does not implement them (UnsupportedFactory supplies such defaults).
type Factory interface {
	// Register constructs a provider instance and returns its opaque handle.
	Register(args RegisterArgs) (interface{}, error)
	// Deregister destroys a provider instance.
	Deregister(handle interface{}) error
	// GetConfig returns the provider's current configuration as JSON text.
	GetConfig(handle interface{}) (string, error)

	// ChangePool rebinds the provider to a new execution pool. Optional.
	ChangePool(handle interface{}, newPool string) error
	// Migrate moves the provider's state to a remote destination. Optional.
	Migrate(handle interface{}, destAddress string, destProviderID uint16, migrationConfig string, removeSource bool) error
	// Snapshot persists the provider's state to destPath. Optional.
	Snapshot(handle interface{}, destPath string, snapshotConfig string, removeSource bool) error
	// Restore loads provider state from srcPath. Optional.
	Restore(handle interface{}, srcPath string, restoreConfig string) error

	// InitClient constructs a client-side instance.
	InitClient(args ClientArgs) (interface{}, error)
	// FinalizeClient destroys a client-side instance.
	FinalizeClient(handle interface{}) error
	// GetClientConfig returns the client's current configuration as JSON text.
	GetClientConfig(handle interface{}) (string, error)
	// CreateProviderHandle manufactures a remote provider handle from a client.
	CreateProviderHandle(client interface{}, address string, providerID uint16) (interface{}, error)
	// DestroyProviderHandle releases a provider handle created above.
	DestroyProviderHandle(handle interface{}) error

	// Dependencies returns the module's declared dependency schema for a
	// given instance configuration.
	Dependencies(config string) ([]DependencyDeclaration, error)
}

// UnsupportedFactory can be embedded by modules that only implement the
// required subset of Factory, so the optional hooks default to returning
// Unsupported rather than requiring every module author to stub them out.
type UnsupportedFactory struct{}

func (UnsupportedFactory) ChangePool(interface{}, string) error { return errUnsupported("change_pool") }
func (UnsupportedFactory) Migrate(interface{}, string, uint16, string, bool) error {
	return errUnsupported("migrate")
}
func (UnsupportedFactory) Snapshot(interface{}, string, string, bool) error {
	return errUnsupported("snapshot")
}
func (UnsupportedFactory) Restore(interface{}, string, string) error { return errUnsupported("restore") }
