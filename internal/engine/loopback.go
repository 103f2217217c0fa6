package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/ref"
	"github.com/google/uuid"
)

// HandlerFunc services one address's worth of incoming Call requests. The
// server wires its RPC dispatcher (internal/rpc) in as the handler for its
// own address.
type HandlerFunc func(ctx context.Context, providerID uint16, method string, payload []byte) ([]byte, error)

// Loopback is an in-process Backend: a small router keyed by address, used
// by single-process deployments and by tests that exercise the Dependency
// Resolver's remote-lookup path (specification §8 scenario 4) without a
// real transport. Pools and execution streams are opaque tokens; their
// "release" just drops the token.
type Loopback struct {
	router *Router
	self   string
	config json.RawMessage

	finalizeOnce sync.Once
	done         chan struct{}
}

// NewLoopback creates a Loopback backend. router is shared across every
// daemon in a test topology so one daemon's Dependency Resolver can reach
// another's Remote Control RPC dispatcher by address.
func NewLoopback(router *Router) *Loopback {
	return &Loopback{router: router, done: make(chan struct{})}
}

// Router is the shared address space multiple Loopback backends register
// into, standing in for a real network in multi-daemon tests.
type Router struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty address space.
func NewRouter() *Router {
	r := &Router{handlers: make(map[string]HandlerFunc)}
	return r
}

// Init assigns address (or a generated one, if empty) as this backend's
// self address and records engineConfig as its live configuration.
func (l *Loopback) Init(address, engineConfig string) (string, error) {
	if address == "" {
		address = "loopback://" + uuid.NewString()
	}
	l.self = address
	if engineConfig == "" {
		engineConfig = "{}"
	}
	l.config = json.RawMessage(engineConfig)
	return address, nil
}

// Handle returns the Loopback itself: it is its own native handle, since it
// implements both the Backend and the in-process Call dispatch.
func (l *Loopback) Handle() interface{} { return l }

// Serve registers handler as the receiver for this backend's self address,
// making it reachable through the shared Router from other Loopback
// backends' Call.
func (l *Loopback) Serve(router *Router, handler HandlerFunc) {
	router.mu.Lock()
	defer router.mu.Unlock()
	router.handlers[l.self] = handler
}

// ServeSelf registers handler against this backend's own Router.
func (l *Loopback) ServeSelf(handler HandlerFunc) {
	l.Serve(l.router, handler)
}

// CreatePool returns an opaque token representing a pool; Loopback performs
// no real scheduling, matching the engine's status as an opaque external
// contract under test.
func (l *Loopback) CreatePool(config string) (interface{}, ref.ReleaseFunc, error) {
	token := new(struct{ cfg string })
	token.cfg = config
	return token, func() {}, nil
}

// CreateXstream mirrors CreatePool for execution streams.
func (l *Loopback) CreateXstream(config string) (interface{}, ref.ReleaseFunc, error) {
	token := new(struct{ cfg string })
	token.cfg = config
	return token, func() {}, nil
}

// Call dispatches to the handler registered for address via the Router
// passed to Serve on the peer.
func (l *Loopback) Call(ctx context.Context, address string, providerID uint16, method string, payload []byte) ([]byte, error) {
	l.router.mu.Lock()
	handler, ok := l.router.handlers[address]
	l.router.mu.Unlock()
	if !ok {
		return nil, berrors.New(berrors.KindEngineError, "no loopback peer registered at %q", address)
	}
	return handler(ctx, providerID, method, payload)
}

// Config returns the engine configuration supplied to Init.
func (l *Loopback) Config() json.RawMessage { return l.config }

// Finalize marks this backend as terminated, unblocking WaitForFinalize.
func (l *Loopback) Finalize() {
	l.finalizeOnce.Do(func() { close(l.done) })
}

// WaitForFinalize blocks until Finalize is called.
func (l *Loopback) WaitForFinalize() { <-l.done }
