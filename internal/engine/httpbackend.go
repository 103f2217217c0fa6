package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/ref"
)

// HTTPBackend is a Backend implementation that carries Remote Control RPCs
// over plain HTTP/JSON, for deployments with no real margo/mercury engine
// available. Wiring a generated-code RPC stack (gRPC) would need protobuf
// codegen this module cannot run; net/http is the concrete transport the
// pack itself reaches for (giantswarm-muster's aggregator endpoint is an
// HTTP server) when no other wire format is mandated.
type HTTPBackend struct {
	listener net.Listener
	server   *http.Server
	client   *http.Client
	self     string
	config   json.RawMessage

	mu      sync.Mutex
	handler HandlerFunc

	finalizeOnce sync.Once
	done         chan struct{}
}

// NewHTTPBackend returns an unstarted HTTPBackend.
func NewHTTPBackend() *HTTPBackend {
	return &HTTPBackend{client: &http.Client{}, done: make(chan struct{})}
}

// Init binds a TCP listener at address (host:port; port 0 picks an
// ephemeral port, and an empty address binds 127.0.0.1 on an ephemeral
// port) and starts serving HTTP in the background.
func (h *HTTPBackend) Init(address, engineConfig string) (string, error) {
	if address == "" {
		address = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return "", berrors.Wrap(berrors.KindEngineError, err, "listening on %q", address)
	}
	h.listener = ln
	h.self = "http://" + ln.Addr().String()
	if engineConfig == "" {
		engineConfig = "{}"
	}
	h.config = json.RawMessage(engineConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc/", h.serveRPC)
	h.server = &http.Server{Handler: mux}
	go h.server.Serve(ln)

	return h.self, nil
}

// Handle returns the backend itself as the opaque engine handle.
func (h *HTTPBackend) Handle() interface{} { return h }

// Serve installs handler as the receiver for inbound RPCs. Must be called
// once, after Init, before any peer's Call can succeed.
func (h *HTTPBackend) Serve(handler HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// serveRPC decodes "/rpc/<providerID>/<method>" and dispatches to the
// installed handler.
func (h *HTTPBackend) serveRPC(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/rpc/"), "/", 2)
	if len(parts) != 2 {
		http.Error(w, "malformed RPC path", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		http.Error(w, "malformed provider id", http.StatusBadRequest)
		return
	}
	providerID := uint16(id)
	method := parts[1]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()
	if handler == nil {
		http.Error(w, "no handler installed", http.StatusServiceUnavailable)
		return
	}

	resp, err := handler(r.Context(), providerID, method, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

// CreatePool returns an opaque token; real pool scheduling belongs to the
// external engine this backend stands in for.
func (h *HTTPBackend) CreatePool(config string) (interface{}, ref.ReleaseFunc, error) {
	token := new(struct{ cfg string })
	token.cfg = config
	return token, func() {}, nil
}

// CreateXstream mirrors CreatePool for execution streams.
func (h *HTTPBackend) CreateXstream(config string) (interface{}, ref.ReleaseFunc, error) {
	token := new(struct{ cfg string })
	token.cfg = config
	return token, func() {}, nil
}

// Call issues a POST to address's "/rpc/<providerID>/<method>" endpoint.
func (h *HTTPBackend) Call(ctx context.Context, address string, providerID uint16, method string, payload []byte) ([]byte, error) {
	url := strings.TrimSuffix(address, "/") + "/rpc/" + strconv.FormatUint(uint64(providerID), 10) + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "building request to %s", address)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "calling %s", address)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "reading response from %s", address)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, berrors.New(berrors.KindEngineError, "%s returned %s: %s", address, resp.Status, string(body))
	}
	return body, nil
}

// Config returns the engine configuration supplied to Init.
func (h *HTTPBackend) Config() json.RawMessage { return h.config }

// Finalize stops the HTTP server and unblocks WaitForFinalize.
func (h *HTTPBackend) Finalize() {
	h.finalizeOnce.Do(func() {
		if h.server != nil {
			_ = h.server.Close()
		}
		close(h.done)
	})
}

// WaitForFinalize blocks until Finalize is called.
func (h *HTTPBackend) WaitForFinalize() { <-h.done }
