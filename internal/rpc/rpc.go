// Package rpc implements the Remote Control RPCs of specification §6: a
// dispatcher that decodes a method name and a JSON payload, routes to the
// matching Server operation, and wraps every outcome in a berrors.Result
// envelope. Grounded on giantswarm-muster's internal/api HTTP handlers,
// which follow the same decode-dispatch-envelope shape over a different
// transport; here the transport is the opaque engine.HandlerFunc contract
// instead of net/http.
package rpc

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/client"
	"github.com/bedrock-hpc/bedrock/internal/depgraph"
	"github.com/bedrock-hpc/bedrock/internal/group"
	"github.com/bedrock-hpc/bedrock/internal/provider"
	"github.com/bedrock-hpc/bedrock/internal/server"
	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

// Method names every Remote Control RPC is addressed by (specification §6).
const (
	MethodGetConfig          = "get_config"
	MethodQueryConfig        = "query_config"
	MethodLoadModule         = "load_module"
	MethodStartProvider      = "start_provider"
	MethodChangeProviderPool = "change_provider_pool"
	MethodAddClient          = "add_client"
	MethodAddPool            = "add_pool"
	MethodRemovePool         = "remove_pool"
	MethodAddXstream         = "add_xstream"
	MethodRemoveXstream      = "remove_xstream"
	MethodAddSSGGroup        = "add_ssg_group"
	MethodMigrateProvider    = "migrate_provider"
	MethodSnapshotProvider   = "snapshot_provider"
	MethodRestoreProvider    = "restore_provider"
	MethodLookupProvider     = "lookup_provider"
	MethodListProviders      = "list_providers"
	MethodLookupClient       = "lookup_client"
	MethodListClients        = "list_clients"
	MethodShutdown           = "shutdown"
)

// Dispatcher routes decoded Remote Control RPC calls to srv.
type Dispatcher struct {
	srv *server.Server
}

// NewDispatcher wraps srv in a Dispatcher.
func NewDispatcher(srv *server.Server) *Dispatcher {
	return &Dispatcher{srv: srv}
}

// Handle implements engine.HandlerFunc: providerID is checked against the
// server's own bedrock provider id before any method dispatches, since
// Remote Control RPCs are only meaningful addressed to that identity.
func (d *Dispatcher) Handle(ctx context.Context, providerID uint16, method string, payload []byte) ([]byte, error) {
	if providerID != d.srv.BedrockProviderID() {
		return envelope[struct{}](struct{}{}, berrors.New(berrors.KindUnsupported, "provider id %d is not the bedrock RPC provider", providerID))
	}
	switch method {
	case MethodGetConfig:
		return envelope(d.getConfig())
	case MethodQueryConfig:
		return envelope(d.queryConfig(payload))
	case MethodLoadModule:
		return envelope(d.loadModule(payload))
	case MethodStartProvider:
		return envelope(d.startProvider(payload))
	case MethodChangeProviderPool:
		return envelope(d.changeProviderPool(payload))
	case MethodAddClient:
		return envelope(d.addClient(payload))
	case MethodAddPool:
		return envelope(d.addPool(payload))
	case MethodRemovePool:
		return envelope(d.removePool(payload))
	case MethodAddXstream:
		return envelope(d.addXstream(payload))
	case MethodRemoveXstream:
		return envelope(d.removeXstream(payload))
	case MethodAddSSGGroup:
		return envelope(d.addSSGGroup(payload))
	case MethodMigrateProvider:
		return envelope(d.migrateProvider(payload))
	case MethodSnapshotProvider:
		return envelope(d.snapshotProvider(payload))
	case MethodRestoreProvider:
		return envelope(d.restoreProvider(payload))
	case MethodLookupProvider:
		return envelope(d.lookupProvider(ctx, payload))
	case MethodListProviders:
		return envelope(d.listProviders())
	case MethodLookupClient:
		return envelope(d.lookupClient(ctx, payload))
	case MethodListClients:
		return envelope(d.listClients())
	case MethodShutdown:
		return envelope(d.shutdown())
	default:
		return envelope[struct{}](struct{}{}, berrors.New(berrors.KindUnsupported, "unknown method %q", method))
	}
}

// envelope marshals value (or err, when non-nil) into a berrors.Result[T]
// JSON payload, per specification §6: "Each RPC returns Result<T>".
func envelope[T any](value T, err error) ([]byte, error) {
	if err != nil {
		logging.Error("rpc", err, "request failed")
		return json.Marshal(berrors.Err[T](err))
	}
	return json.Marshal(berrors.Ok(value))
}

func (d *Dispatcher) getConfig() (json.RawMessage, error) {
	doc, err := d.srv.GetCurrentConfig()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

type queryConfigRequest struct {
	Script string `json:"script"`
}

func (d *Dispatcher) queryConfig(payload []byte) (json.RawMessage, error) {
	var req queryConfigRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding query_config request")
	}
	doc, err := d.srv.GetCurrentConfig()
	if err != nil {
		return nil, err
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "encoding current config")
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(docJSON, &asMap); err != nil {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "re-decoding current config")
	}
	result, err := d.srv.Scripts.ExecuteQuery(req.Script, asMap)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "executing query_config script")
	}
	return json.RawMessage(result), nil
}

type loadModuleRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (d *Dispatcher) loadModule(payload []byte) (struct{}, error) {
	var req loadModuleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding load_module request")
	}
	return struct{}{}, d.srv.Modules.Load(req.Name, req.Path)
}

type startProviderRequest struct {
	Name         string              `json:"name"`
	Type         string              `json:"type"`
	ProviderID   *uint16             `json:"provider_id,omitempty"`
	Pool         string              `json:"pool,omitempty"`
	Config       json.RawMessage     `json:"config,omitempty"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
}

func (d *Dispatcher) startProvider(payload []byte) (provider.Descriptor, error) {
	var req startProviderRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return provider.Descriptor{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding start_provider request")
	}
	return d.srv.Providers.AddProvider(provider.Description{
		Name:         req.Name,
		Type:         req.Type,
		ProviderID:   req.ProviderID,
		Pool:         req.Pool,
		Config:       string(req.Config),
		Tags:         req.Tags,
		Dependencies: req.Dependencies,
	}, d.srv.Resolver)
}

type changeProviderPoolRequest struct {
	Provider string `json:"provider"`
	Pool     string `json:"pool"`
}

func (d *Dispatcher) changeProviderPool(payload []byte) (struct{}, error) {
	var req changeProviderPoolRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding change_provider_pool request")
	}
	return struct{}{}, d.srv.Providers.ChangeProviderPool(req.Provider, req.Pool, d.srv.Modules)
}

type addClientRequest struct {
	Name         string              `json:"name"`
	Type         string              `json:"type"`
	Config       json.RawMessage     `json:"config,omitempty"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
}

func (d *Dispatcher) addClient(payload []byte) (client.Descriptor, error) {
	var req addClientRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return client.Descriptor{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding add_client request")
	}
	return d.srv.Clients.AddClient(client.Description{
		Name:         req.Name,
		Type:         req.Type,
		Config:       string(req.Config),
		Tags:         req.Tags,
		Dependencies: req.Dependencies,
	}, d.srv.Resolver)
}

type configOnlyRequest struct {
	Config json.RawMessage `json:"config"`
}

type namedRequest struct {
	Name string `json:"name"`
}

func (d *Dispatcher) addPool(payload []byte) (string, error) {
	var req configOnlyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", berrors.Wrap(berrors.KindConfigInvalid, err, "decoding add_pool request")
	}
	name := autoName("pool")
	n, err := d.srv.Engine.AddPoolFromConfig(name, string(req.Config))
	if err != nil {
		return "", err
	}
	return n.Name(), nil
}

func (d *Dispatcher) removePool(payload []byte) (struct{}, error) {
	var req namedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding remove_pool request")
	}
	return struct{}{}, d.srv.Engine.RemovePool(req.Name)
}

func (d *Dispatcher) addXstream(payload []byte) (string, error) {
	var req configOnlyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", berrors.Wrap(berrors.KindConfigInvalid, err, "decoding add_xstream request")
	}
	name := autoName("xstream")
	n, err := d.srv.Engine.AddXstreamFromConfig(name, string(req.Config))
	if err != nil {
		return "", err
	}
	return n.Name(), nil
}

func (d *Dispatcher) removeXstream(payload []byte) (struct{}, error) {
	var req namedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding remove_xstream request")
	}
	return struct{}{}, d.srv.Engine.RemoveXstream(req.Name)
}

func (d *Dispatcher) addSSGGroup(payload []byte) (struct{}, error) {
	var spec group.Spec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding add_ssg_group request")
	}
	_, err := d.srv.Groups.Create(spec)
	return struct{}{}, err
}

type migrateProviderRequest struct {
	Provider        string `json:"provider"`
	DestAddress     string `json:"dest_addr"`
	DestProviderID  uint16 `json:"dest_provider_id"`
	MigrationConfig string `json:"migration_config"`
	RemoveSource    bool   `json:"remove_source"`
}

func (d *Dispatcher) migrateProvider(payload []byte) (struct{}, error) {
	var req migrateProviderRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding migrate_provider request")
	}
	return struct{}{}, d.srv.Providers.MigrateProvider(req.Provider, req.DestAddress, req.DestProviderID, req.MigrationConfig, req.RemoveSource, d.srv.Modules)
}

type snapshotProviderRequest struct {
	Provider       string `json:"provider"`
	DestPath       string `json:"dest_path"`
	SnapshotConfig string `json:"snapshot_config"`
	RemoveSource   bool   `json:"remove_source"`
}

func (d *Dispatcher) snapshotProvider(payload []byte) (struct{}, error) {
	var req snapshotProviderRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding snapshot_provider request")
	}
	return struct{}{}, d.srv.Providers.SnapshotProvider(req.Provider, req.DestPath, req.SnapshotConfig, req.RemoveSource, d.srv.Modules)
}

type restoreProviderRequest struct {
	Provider      string `json:"provider"`
	SrcPath       string `json:"src_path"`
	RestoreConfig string `json:"restore_config"`
}

func (d *Dispatcher) restoreProvider(payload []byte) (struct{}, error) {
	var req restoreProviderRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return struct{}{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding restore_provider request")
	}
	return struct{}{}, d.srv.Providers.RestoreProvider(req.Provider, req.SrcPath, req.RestoreConfig, d.srv.Modules)
}

type lookupRequest struct {
	Spec           string  `json:"spec"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// lookupProvider implements the server side of the remote provider-lookup
// RPC the Dependency Resolver calls (specification §4.6: "the server side
// blocks waiting for the named object to appear up to the timeout").
func (d *Dispatcher) lookupProvider(ctx context.Context, payload []byte) (provider.Descriptor, error) {
	var req lookupRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return provider.Descriptor{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding lookup_provider request")
	}
	spec, err := depgraph.ParseSpec(req.Spec)
	if err != nil {
		return provider.Descriptor{}, err
	}
	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pred := func(inst *provider.Instance) bool {
		if spec.ProviderID != nil {
			return inst.Type == spec.Ident && inst.ProviderID == *spec.ProviderID
		}
		return inst.Name == spec.Ident
	}
	inst, err := d.srv.Providers.WaitForAppearance(waitCtx, pred)
	if err != nil {
		return provider.Descriptor{}, err
	}
	return inst.Descriptor(), nil
}

func (d *Dispatcher) listProviders() ([]provider.Descriptor, error) {
	return d.srv.Providers.ListProviders(), nil
}

func (d *Dispatcher) lookupClient(ctx context.Context, payload []byte) (client.Descriptor, error) {
	var req lookupRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return client.Descriptor{}, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding lookup_client request")
	}
	inst, ok := d.srv.Clients.GetByName(req.Spec)
	if !ok {
		return client.Descriptor{}, berrors.New(berrors.KindDependencyUnresolved, "client %q not found", req.Spec)
	}
	return inst.Descriptor(), nil
}

func (d *Dispatcher) listClients() ([]client.Descriptor, error) {
	return d.srv.Clients.ListClients(), nil
}

func (d *Dispatcher) shutdown() (struct{}, error) {
	go d.srv.Finalize()
	return struct{}{}, nil
}

var nameCounter int64

// autoName mints a table name for engine resources created over RPC without
// an explicit name (add_pool/add_xstream only carry a config in
// specification §6).
func autoName(kind string) string {
	n := atomic.AddInt64(&nameCounter, 1)
	return kind + "-" + strconv.FormatInt(n, 10)
}
