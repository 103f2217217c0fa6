package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackendInitBindsEphemeralPort(t *testing.T) {
	h := NewHTTPBackend()
	defer h.Finalize()

	addr, err := h.Init("127.0.0.1:0", "")
	require.NoError(t, err)
	assert.Contains(t, addr, "http://127.0.0.1:")
	assert.JSONEq(t, `{}`, string(h.Config()))
}

func TestHTTPBackendCallRoundTrip(t *testing.T) {
	server := NewHTTPBackend()
	defer server.Finalize()
	addr, err := server.Init("127.0.0.1:0", "")
	require.NoError(t, err)

	var gotProviderID uint16
	var gotMethod string
	server.Serve(func(ctx context.Context, providerID uint16, method string, payload []byte) ([]byte, error) {
		gotProviderID = providerID
		gotMethod = method
		return []byte(`{"success":true,"value":42}`), nil
	})

	client := NewHTTPBackend()
	defer client.Finalize()

	// Give the server goroutine a moment to start accepting connections.
	deadline := time.Now().Add(2 * time.Second)
	var resp []byte
	for {
		resp, err = client.Call(context.Background(), addr, 3, "get_config", []byte(`{}`))
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, uint16(3), gotProviderID)
	assert.Equal(t, "get_config", gotMethod)
	assert.JSONEq(t, `{"success":true,"value":42}`, string(resp))
}

func TestHTTPBackendCallNoHandlerInstalled(t *testing.T) {
	server := NewHTTPBackend()
	defer server.Finalize()
	addr, err := server.Init("127.0.0.1:0", "")
	require.NoError(t, err)

	client := NewHTTPBackend()
	defer client.Finalize()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err = client.Call(context.Background(), addr, 0, "get_config", []byte(`{}`))
		if err != nil || time.Now().After(deadline) {
			break
		}
	}
	assert.Error(t, err)
}

func TestHTTPBackendFinalizeIdempotent(t *testing.T) {
	h := NewHTTPBackend()
	_, err := h.Init("127.0.0.1:0", "")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.WaitForFinalize()
		close(done)
	}()

	h.Finalize()
	h.Finalize()
	<-done
}
