package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/ref"
	"github.com/prometheus/client_golang/prometheus"
)

// Backend is the opaque external RPC engine named in specification §1. The
// composition core never talks to a transport directly; it only calls
// through this interface, so the engine itself stays a named external
// contract (§6) rather than something this module implements.
type Backend interface {
	// Init starts the engine listening at address using engineConfig (the
	// configuration document's top-level "margo" section, serialized to
	// JSON) and returns the self address the engine actually bound to.
	Init(address string, engineConfig string) (selfAddress string, err error)
	// Handle returns the engine's native handle, threaded into every
	// factory's register/init_client arguments so modules can reach the
	// engine they were started on.
	Handle() interface{}
	// CreatePool instantiates a pool from its JSON configuration.
	CreatePool(config string) (handle interface{}, release ref.ReleaseFunc, err error)
	// CreateXstream instantiates an execution stream from its JSON configuration.
	CreateXstream(config string) (handle interface{}, release ref.ReleaseFunc, err error)
	// Call issues a request/response RPC to a provider at address.
	Call(ctx context.Context, address string, providerID uint16, method string, payload []byte) ([]byte, error)
	// Config returns the engine's own live configuration as JSON.
	Config() json.RawMessage
	// Finalize tears down the engine and unblocks WaitForFinalize.
	Finalize()
	// WaitForFinalize blocks until Finalize has been called locally or a
	// remote shutdown RPC was received.
	WaitForFinalize()
}

// Manager is the Engine Manager (specification §4.3): it owns the pool and
// execution-stream tables and exposes the engine's self address and live
// configuration.
type Manager struct {
	backend Backend

	mu          sync.RWMutex
	selfAddress string

	pools    *Table
	xstreams *Table

	poolGauge    prometheus.Gauge
	xstreamGauge prometheus.Gauge
}

// NewManager starts backend at address with engineConfig and returns a
// Manager wrapping it.
func NewManager(backend Backend, address, engineConfig string) (*Manager, error) {
	self, err := backend.Init(address, engineConfig)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "initializing engine at %q", address)
	}
	m := &Manager{
		backend:     backend,
		selfAddress: self,
		pools:       NewTable(ReservedPool),
		xstreams:    NewTable(ReservedXstream),
		poolGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bedrock_engine_pools",
			Help: "Number of pools currently registered with the engine manager.",
		}),
		xstreamGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bedrock_engine_xstreams",
			Help: "Number of execution streams currently registered with the engine manager.",
		}),
	}
	return m, nil
}

// Collectors returns the prometheus collectors this manager exposes, for
// registration against the process's metrics registry.
func (m *Manager) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.poolGauge, m.xstreamGauge}
}

// Handle returns the engine's native handle.
func (m *Manager) Handle() interface{} { return m.backend.Handle() }

// Address returns the engine's self address.
func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selfAddress
}

// Pools returns the pool table.
func (m *Manager) Pools() *Table { return m.pools }

// Xstreams returns the execution-stream table.
func (m *Manager) Xstreams() *Table { return m.xstreams }

// AddPoolFromConfig creates a pool named name from config and registers it.
func (m *Manager) AddPoolFromConfig(name, config string) (*ref.Named, error) {
	handle, release, err := m.backend.CreatePool(config)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "creating pool %q", name)
	}
	n, err := m.pools.Add(name, handle, release)
	if err != nil {
		release()
		return nil, err
	}
	m.poolGauge.Set(float64(m.pools.Count()))
	return n, nil
}

// RemovePool removes a pool by name, enforcing the table's refcount guard.
func (m *Manager) RemovePool(name string) error {
	if err := m.pools.Remove(name); err != nil {
		return err
	}
	m.poolGauge.Set(float64(m.pools.Count()))
	return nil
}

// AddXstreamFromConfig creates an execution stream named name from config.
func (m *Manager) AddXstreamFromConfig(name, config string) (*ref.Named, error) {
	handle, release, err := m.backend.CreateXstream(config)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "creating xstream %q", name)
	}
	n, err := m.xstreams.Add(name, handle, release)
	if err != nil {
		release()
		return nil, err
	}
	m.xstreamGauge.Set(float64(m.xstreams.Count()))
	return n, nil
}

// RemoveXstream removes an execution stream by name.
func (m *Manager) RemoveXstream(name string) error {
	if err := m.xstreams.Remove(name); err != nil {
		return err
	}
	m.xstreamGauge.Set(float64(m.xstreams.Count()))
	return nil
}

// Call forwards to the backend's request/response RPC primitive.
func (m *Manager) Call(ctx context.Context, address string, providerID uint16, method string, payload []byte) ([]byte, error) {
	resp, err := m.backend.Call(ctx, address, providerID, method, payload)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "calling %s/%d.%s", address, providerID, method)
	}
	return resp, nil
}

// Config returns the engine's live configuration document.
func (m *Manager) Config() json.RawMessage {
	return m.backend.Config()
}

// Finalize tears down the underlying engine.
func (m *Manager) Finalize() { m.backend.Finalize() }

// WaitForFinalize blocks until the engine terminates.
func (m *Manager) WaitForFinalize() { m.backend.WaitForFinalize() }
