package depgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/singleflight"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/client"
	"github.com/bedrock-hpc/bedrock/internal/engine"
	"github.com/bedrock-hpc/bedrock/internal/group"
	"github.com/bedrock-hpc/bedrock/internal/module"
	"github.com/bedrock-hpc/bedrock/internal/provider"
	"github.com/bedrock-hpc/bedrock/internal/ref"
	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

// LookupMethod is the Remote Control RPC name the resolver calls against a
// peer's bedrock provider to verify a remote identity exists (specification
// §6 "lookup_provider").
const LookupMethod = "lookup_provider"

// lookupRequest is the wire payload of a remote lookup_provider call: the
// portion of the Dependency Specification local to the remote side (ident,
// optionally ":id"), plus the caller's timeout.
type lookupRequest struct {
	Spec           string  `json:"spec"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
	RequestID      string  `json:"request_id,omitempty"`
}

// Resolver is the Dependency Resolver (specification §4.6), bound to the
// Engine, Provider, Client, and Group Managers of one running daemon.
type Resolver struct {
	engine     *engine.Manager
	providers  *provider.Manager
	clients    *client.Manager
	groups     *group.Manager
	registry   *module.Registry
	membership group.Provider // optional "world" rank table for bare-integer locators

	bedrockProviderID uint16
	defaultTimeout    time.Duration

	sf singleflight.Group
}

// New builds a Resolver. membership may be nil when the deployment has no
// global rank table; bare integer-rank locators then always fail.
func New(eng *engine.Manager, providers *provider.Manager, clients *client.Manager, groups *group.Manager, registry *module.Registry, membership group.Provider, bedrockProviderID uint16, defaultTimeout time.Duration) *Resolver {
	return &Resolver{
		engine:            eng,
		providers:         providers,
		clients:           clients,
		groups:            groups,
		registry:          registry,
		membership:        membership,
		bedrockProviderID: bedrockProviderID,
		defaultTimeout:    defaultTimeout,
	}
}

// Resolve implements provider.Resolver and client.Resolver: it resolves
// every spec string bound to one dependency slot, in order.
func (r *Resolver) Resolve(decl module.DependencyDeclaration, specs []string) ([]ref.Entry, error) {
	entries := make([]ref.Entry, 0, len(specs))
	for _, raw := range specs {
		entry, err := r.resolveOne(decl, raw)
		if err != nil {
			for _, e := range entries {
				e.Dep.Release()
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *Resolver) resolveOne(decl module.DependencyDeclaration, raw string) (ref.Entry, error) {
	// Step 1: reserved engine tags bypass the grammar's type checking and
	// forward straight to the Engine Manager's tables.
	if decl.Type == engine.ReservedPool || decl.Type == engine.ReservedXstream {
		return r.resolveEngineTag(decl.Type, raw)
	}

	spec, err := ParseSpec(raw)
	if err != nil {
		return ref.Entry{}, err
	}

	if !spec.HasLocator() {
		return r.resolveLocal(decl, spec)
	}
	return r.resolveRemote(decl, spec)
}

func (r *Resolver) resolveEngineTag(tag, raw string) (ref.Entry, error) {
	spec, err := ParseSpec(raw)
	if err != nil {
		return ref.Entry{}, err
	}
	var table *engine.Table
	if tag == engine.ReservedPool {
		table = r.engine.Pools()
	} else {
		table = r.engine.Xstreams()
	}
	n, ok := table.Get(spec.Ident)
	if !ok {
		return ref.Entry{}, berrors.New(berrors.KindDependencyUnresolved, "%s %q not found", tag, spec.Ident)
	}
	return ref.Entry{Dep: n.Retain(), Owned: true}, nil
}

func (r *Resolver) resolveLocal(decl module.DependencyDeclaration, spec Spec) (ref.Entry, error) {
	var named *ref.Named
	var ok bool
	if spec.ProviderID != nil {
		named, ok = r.providers.ResolveLocalByTypeID(spec.Ident, *spec.ProviderID)
	} else {
		named, ok = r.providers.ResolveLocal(spec.Ident)
		if !ok {
			named, ok = r.clients.ResolveLocal(spec.Ident)
		}
	}
	if !ok {
		return ref.Entry{}, berrors.New(berrors.KindDependencyUnresolved, "local dependency %q not found", spec.Ident)
	}
	if named.Type() != decl.Type {
		return ref.Entry{}, berrors.New(berrors.KindDependencyUnresolved, "dependency %q has type %q, expected %q", spec.Ident, named.Type(), decl.Type)
	}
	return ref.Entry{Dep: named.Retain(), Owned: true}, nil
}

func (r *Resolver) resolveRemote(decl module.DependencyDeclaration, spec Spec) (ref.Entry, error) {
	address, err := r.resolveLocatorAddress(spec.Locator)
	if err != nil {
		return ref.Entry{}, err
	}

	desc, err := r.remoteLookup(address, spec)
	if err != nil {
		return ref.Entry{}, err
	}
	if desc.Type != decl.Type {
		return ref.Entry{}, berrors.New(berrors.KindDependencyUnresolved, "remote dependency %q@%s has type %q, expected %q", spec.Ident, address, desc.Type, decl.Type)
	}

	factory, err := r.registry.MustLookup(decl.Type)
	if err != nil {
		return ref.Entry{}, err
	}
	anon, err := r.clients.GetOrCreateAnonymous(decl.Type, r)
	if err != nil {
		return ref.Entry{}, berrors.Wrap(berrors.KindDependencyUnresolved, err, "obtaining client for remote type %q", decl.Type)
	}
	anonInst, _ := r.clients.GetByName(anon.Name)

	handle, err := factory.CreateProviderHandle(anonInst.Handle(), address, desc.ProviderID)
	if err != nil {
		return ref.Entry{}, berrors.Wrap(berrors.KindFactoryFailed, err, "creating provider handle for %q@%s", spec.Ident, address)
	}

	name := fmt.Sprintf("%s@%s:%d", spec.Ident, address, desc.ProviderID)
	named := ref.New(name, decl.Type, handle, func() { _ = factory.DestroyProviderHandle(handle) })
	return ref.Entry{Dep: named, Owned: true}, nil
}

func (r *Resolver) resolveLocatorAddress(locator string) (string, error) {
	kind, rank, groupURL := ClassifyLocator(locator)
	switch kind {
	case LocatorLocal:
		return r.engine.Address(), nil
	case LocatorRank:
		if r.membership == nil {
			return "", berrors.New(berrors.KindDependencyUnresolved, "no membership table available to resolve rank %d", rank)
		}
		addr, ok := r.membership.AddressOf(rank)
		if !ok {
			return "", berrors.New(berrors.KindDependencyUnresolved, "no peer at rank %d", rank)
		}
		return addr, nil
	case LocatorGroup:
		normalized := strings.Replace(groupURL, "ssg://", "group://", 1)
		return r.groups.Address(normalized)
	default:
		return locator, nil
	}
}

// remoteLookup issues the lookup_provider RPC to address, deduplicating
// identical concurrent lookups with singleflight so a burst of dependents
// resolving the same remote name only pays for one round trip.
func (r *Resolver) remoteLookup(address string, spec Spec) (provider.Descriptor, error) {
	key := address + "|" + spec.Ident
	if spec.ProviderID != nil {
		key += fmt.Sprintf(":%d", *spec.ProviderID)
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.doRemoteLookup(address, spec)
	})
	if err != nil {
		return provider.Descriptor{}, err
	}
	return result.(provider.Descriptor), nil
}

func (r *Resolver) doRemoteLookup(address string, spec Spec) (provider.Descriptor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.defaultTimeout)
	defer cancel()

	wire := spec.Ident
	if spec.ProviderID != nil {
		wire = fmt.Sprintf("%s:%d", spec.Ident, *spec.ProviderID)
	}
	requestID := uuid.Must(uuid.NewV4()).String()
	req := lookupRequest{Spec: wire, TimeoutSeconds: r.defaultTimeout.Seconds(), RequestID: requestID}
	payload, err := json.Marshal(req)
	if err != nil {
		return provider.Descriptor{}, berrors.Wrap(berrors.KindRemoteLookupFailed, err, "encoding lookup request")
	}

	logging.Info("depgraph", "remote lookup %s (request %s) -> %s", wire, requestID, address)
	resp, err := r.engine.Call(ctx, address, r.bedrockProviderID, LookupMethod, payload)
	if err != nil {
		return provider.Descriptor{}, berrors.Wrap(berrors.KindRemoteLookupFailed, err, "looking up %q at %s (request %s)", wire, address, requestID)
	}

	var result berrors.Result[provider.Descriptor]
	if err := json.Unmarshal(resp, &result); err != nil {
		return provider.Descriptor{}, berrors.Wrap(berrors.KindRemoteLookupFailed, err, "decoding lookup response from %s", address)
	}
	if !result.Success {
		return provider.Descriptor{}, berrors.New(berrors.KindRemoteLookupFailed, "%s: %s", address, result.Error)
	}
	return result.Value, nil
}
