// Package server implements the bootstrap and shutdown orchestration of
// specification §4.9: it sequences the Engine, Script, Group, and Module
// managers, builds the Provider and Client Managers and the Dependency
// Resolver bound to them, and instantiates the configuration document's
// providers and clients in array order. Grounded on giantswarm-muster's
// internal/app bootstrap sequencing (cmd/root.go + internal/app), which
// wires its own managers in a fixed order and tears them down in reverse on
// any construction error.
package server

import (
	"encoding/json"
	"time"

	"github.com/bedrock-hpc/bedrock/internal/client"
	"github.com/bedrock-hpc/bedrock/internal/config"
	"github.com/bedrock-hpc/bedrock/internal/depgraph"
	"github.com/bedrock-hpc/bedrock/internal/engine"
	"github.com/bedrock-hpc/bedrock/internal/group"
	"github.com/bedrock-hpc/bedrock/internal/module"
	"github.com/bedrock-hpc/bedrock/internal/provider"
	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

// DefaultBedrockProviderID is the provider id the server's own Remote Control RPC
// handler registers under, unless the configuration document overrides it
// (specification §4.9: "create Provider Manager with its own RPC provider
// id").
const DefaultBedrockProviderID = 0

// Server is the fully bootstrapped daemon: every manager named in
// specification §4, wired together per §4.9's ordering.
type Server struct {
	Engine    *engine.Manager
	Scripts   scriptManager
	Groups    *group.Manager
	Modules   *module.Registry
	Providers *provider.Manager
	Clients   *client.Manager
	Resolver  *depgraph.Resolver

	bedrockProviderID uint16
}

// scriptManager is the narrow slice of *internal/script.Manager the server
// needs, kept local so this package does not have to import internal/script
// just to thread one value through Bootstrap.
type scriptManager interface {
	EvaluateCondition(exprSrc string, extra map[string]interface{}) (bool, error)
	ExecuteQuery(scriptSrc string, extra map[string]interface{}) (string, error)
}

// Dependencies bundles the external collaborators Bootstrap needs to build
// the daemon: the opaque engine transport, the script evaluator, and the
// group-provider factory. Each is a named external contract (specification
// §1) the core never implements itself.
type Dependencies struct {
	Backend      engine.Backend
	Scripts      scriptManager
	GroupFactory group.Factory
	Membership   group.Provider // optional global rank table, for "@<rank>" locators
}

// Bootstrap implements specification §4.9's ordered startup: parse/validate
// config, start the Engine Manager, load modules, build the Provider and
// Client Managers and Dependency Resolver, then instantiate providers and
// clients in array order. On any failure it tears down what was already
// started and returns the error, leaving nothing half-built.
func Bootstrap(doc *config.Document, address string, deps Dependencies) (*Server, error) {
	eng, err := engine.NewManager(deps.Backend, address, string(doc.Margo))
	if err != nil {
		return nil, err
	}

	groups := group.NewManager(deps.GroupFactory)

	modules := module.NewRegistry()
	for name, path := range doc.Libraries {
		if err := modules.Load(name, path); err != nil {
			eng.Finalize()
			return nil, err
		}
	}

	bedrockProviderID := uint16(DefaultBedrockProviderID)
	if doc.Bedrock.ProviderID != nil {
		bedrockProviderID = *doc.Bedrock.ProviderID
	}

	providers := provider.NewManager(modules, eng.Handle())
	clients := client.NewManager(modules, eng.Handle())

	timeout := time.Duration(doc.Bedrock.DependencyResolutionTimeout * float64(time.Second))
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultDependencyResolutionTimeoutSeconds * float64(time.Second))
	}
	resolver := depgraph.New(eng, providers, clients, groups, modules, deps.Membership, bedrockProviderID, timeout)

	srv := &Server{
		Engine:            eng,
		Scripts:           deps.Scripts,
		Groups:            groups,
		Modules:           modules,
		Providers:         providers,
		Clients:           clients,
		Resolver:          resolver,
		bedrockProviderID: bedrockProviderID,
	}

	for _, g := range doc.SSG {
		if _, err := groups.Create(toGroupSpec(g)); err != nil {
			eng.Finalize()
			return nil, err
		}
	}

	for _, p := range doc.Providers {
		if _, err := providers.AddProvider(toProviderDescription(p), resolver); err != nil {
			srv.Finalize()
			return nil, err
		}
	}
	for _, c := range doc.Clients {
		if _, err := clients.AddClient(toClientDescription(c), resolver); err != nil {
			srv.Finalize()
			return nil, err
		}
	}

	logging.Info("server", "bootstrap complete: %d providers, %d clients", providers.NumProviders(), clients.NumClients())
	return srv, nil
}

func toGroupSpec(g config.SSGSpec) group.Spec {
	return group.Spec{
		Name:       g.Name,
		Pool:       g.Pool,
		Credential: g.Credential,
		GroupFile:  g.GroupFile,
		Bootstrap:  group.Bootstrap(g.Bootstrap),
		Swim:       g.Swim,
	}
}

func toProviderDescription(p config.ProviderSpec) provider.Description {
	return provider.Description{
		Name:         p.Name,
		Type:         p.Type,
		ProviderID:   p.ProviderID,
		Pool:         p.Pool,
		Config:       string(p.Config),
		Tags:         p.Tags,
		Dependencies: map[string][]string(p.Dependencies),
	}
}

func toClientDescription(c config.ClientSpec) client.Description {
	return client.Description{
		Name:         c.Name,
		Type:         c.Type,
		Config:       string(c.Config),
		Tags:         c.Tags,
		Dependencies: map[string][]string(c.Dependencies),
	}
}

// GetCurrentConfig composes the running state back into the document shape
// of specification §3 ("getCurrentConfig reflects the running state").
func (s *Server) GetCurrentConfig() (*config.Document, error) {
	doc := &config.Document{
		Margo:     s.Engine.Config(),
		Libraries: s.Modules.Libraries(),
	}
	for _, pd := range s.Providers.ListProviders() {
		inst, ok := s.Providers.GetByName(pd.Name)
		if !ok {
			continue
		}
		doc.Providers = append(doc.Providers, config.ProviderSpec{
			Name:       inst.Name,
			Type:       inst.Type,
			ProviderID: &inst.ProviderID,
			Pool:       inst.Pool,
			Tags:       inst.Tags,
			Config:     json.RawMessage(inst.Config),
		})
	}
	for _, cd := range s.Clients.ListClients() {
		inst, ok := s.Clients.GetByName(cd.Name)
		if !ok {
			continue
		}
		doc.Clients = append(doc.Clients, config.ClientSpec{
			Name:   inst.Name,
			Type:   inst.Type,
			Tags:   inst.Tags,
			Config: json.RawMessage(inst.Config),
		})
	}
	doc.Bedrock = config.BedrockSpec{ProviderID: &s.bedrockProviderID}
	return doc, nil
}

// Finalize implements specification §4.9's shutdown: release providers
// first (forcing dependents to drop), then the rest, then tear down the
// engine. It is safe to call once; the engine's own Finalize is idempotent.
func (s *Server) Finalize() {
	for _, pd := range s.Providers.ListProviders() {
		_ = s.Providers.DeregisterProvider(pd.Name, "", 0, false)
	}
	for _, cd := range s.Clients.ListClients() {
		_ = s.Clients.FinalizeClient(cd.Name)
	}
	s.Engine.Finalize()
}

// WaitForFinalize blocks until the engine observes termination, either
// local (Finalize was called) or remote (a shutdown RPC was received).
func (s *Server) WaitForFinalize() {
	s.Engine.WaitForFinalize()
}

// BedrockProviderID returns the provider id the server's own Remote Control
// RPC dispatcher is addressed under.
func (s *Server) BedrockProviderID() uint16 {
	return s.bedrockProviderID
}
