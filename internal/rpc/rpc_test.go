package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/config"
	"github.com/bedrock-hpc/bedrock/internal/engine"
	"github.com/bedrock-hpc/bedrock/internal/group"
	"github.com/bedrock-hpc/bedrock/internal/module"
	"github.com/bedrock-hpc/bedrock/internal/provider"
	"github.com/bedrock-hpc/bedrock/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoFactory struct {
	module.UnsupportedFactory
}

func (f *echoFactory) Register(module.RegisterArgs) (interface{}, error) { return "handle", nil }
func (f *echoFactory) Deregister(interface{}) error                      { return nil }
func (f *echoFactory) GetConfig(interface{}) (string, error)             { return "{}", nil }
func (f *echoFactory) Dependencies(string) ([]module.DependencyDeclaration, error) {
	return nil, nil
}

type stubScripts struct{ query string }

func (s stubScripts) EvaluateCondition(string, map[string]interface{}) (bool, error) {
	return true, nil
}
func (s stubScripts) ExecuteQuery(string, map[string]interface{}) (string, error) {
	if s.query != "" {
		return s.query, nil
	}
	return `"ok"`, nil
}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	deps := server.Dependencies{
		Backend:      engine.NewLoopback(engine.NewRouter()),
		Scripts:      stubScripts{},
		GroupFactory: group.StaticFactory(&group.StaticMembership{}),
		Membership:   &group.StaticMembership{},
	}
	srv, err := server.Bootstrap(&config.Document{Margo: json.RawMessage(`{}`)}, "loopback://rpc-test", deps)
	require.NoError(t, err)
	require.NoError(t, srv.Modules.RegisterFactory("echo", &echoFactory{}))
	require.NoError(t, srv.Modules.RegisterFactory("other", &echoFactory{}))
	return srv
}

func decodeResult[T any](t *testing.T, raw []byte) berrors.Result[T] {
	t.Helper()
	var res berrors.Result[T]
	require.NoError(t, json.Unmarshal(raw, &res))
	return res
}

func TestDispatcherRejectsWrongProviderID(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID()+1, MethodGetConfig, nil)
	require.NoError(t, err)
	res := decodeResult[json.RawMessage](t, raw)
	assert.False(t, res.Success)
}

func TestDispatcherUnknownMethod(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), "bogus_method", nil)
	require.NoError(t, err)
	res := decodeResult[json.RawMessage](t, raw)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown method")
}

func TestDispatcherGetConfig(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodGetConfig, nil)
	require.NoError(t, err)
	res := decodeResult[json.RawMessage](t, raw)
	assert.True(t, res.Success)

	var doc config.Document
	require.NoError(t, json.Unmarshal(res.Value, &doc))
}

func TestDispatcherStartProviderAndListProviders(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)

	payload, _ := json.Marshal(startProviderRequest{Name: "p1", Type: "echo"})
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodStartProvider, payload)
	require.NoError(t, err)
	res := decodeResult[provider.Descriptor](t, raw)
	require.True(t, res.Success)
	assert.Equal(t, "p1", res.Value.Name)

	raw, err = d.Handle(context.Background(), srv.BedrockProviderID(), MethodListProviders, nil)
	require.NoError(t, err)
	listRes := decodeResult[[]provider.Descriptor](t, raw)
	require.True(t, listRes.Success)
	require.Len(t, listRes.Value, 1)
	assert.Equal(t, "p1", listRes.Value[0].Name)
}

func TestDispatcherStartProviderInvalidPayload(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodStartProvider, []byte("not json"))
	require.NoError(t, err)
	res := decodeResult[provider.Descriptor](t, raw)
	assert.False(t, res.Success)
}

func TestDispatcherAddClientAndLookupClient(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)

	payload, _ := json.Marshal(addClientRequest{Name: "c1", Type: "echo"})
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodAddClient, payload)
	require.NoError(t, err)
	res := decodeResult[json.RawMessage](t, raw)
	require.True(t, res.Success)

	lookupPayload, _ := json.Marshal(lookupRequest{Spec: "c1"})
	raw, err = d.Handle(context.Background(), srv.BedrockProviderID(), MethodLookupClient, lookupPayload)
	require.NoError(t, err)
	lookupRes := decodeResult[json.RawMessage](t, raw)
	require.True(t, lookupRes.Success)
}

func TestDispatcherLookupProviderWaitsForAppearance(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)

	done := make(chan []byte, 1)
	go func() {
		payload, _ := json.Marshal(lookupRequest{Spec: "late", TimeoutSeconds: 2})
		raw, _ := d.Handle(context.Background(), srv.BedrockProviderID(), MethodLookupProvider, payload)
		done <- raw
	}()

	addPayload, _ := json.Marshal(startProviderRequest{Name: "late", Type: "echo"})
	_, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodStartProvider, addPayload)
	require.NoError(t, err)

	raw := <-done
	res := decodeResult[provider.Descriptor](t, raw)
	require.True(t, res.Success)
	assert.Equal(t, "late", res.Value.Name)
}

func TestDispatcherLookupProviderTimesOut(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)
	payload, _ := json.Marshal(lookupRequest{Spec: "nope", TimeoutSeconds: 0.05})
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodLookupProvider, payload)
	require.NoError(t, err)
	res := decodeResult[provider.Descriptor](t, raw)
	assert.False(t, res.Success)
}

// TestDispatcherLookupProviderByTypeIDRejectsCrossTypeCollision guards
// against matching a "type:id" spec purely on the numeric id: provider ids
// are only unique per type, so a lookup for "other:0" must not return an
// "echo" provider that happens to also have id 0.
func TestDispatcherLookupProviderByTypeIDRejectsCrossTypeCollision(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)

	echoPayload, _ := json.Marshal(startProviderRequest{Name: "e1", Type: "echo"})
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodStartProvider, echoPayload)
	require.NoError(t, err)
	echoRes := decodeResult[provider.Descriptor](t, raw)
	require.True(t, echoRes.Success)
	require.Equal(t, uint16(0), echoRes.Value.ProviderID)

	payload, _ := json.Marshal(lookupRequest{Spec: "other:0", TimeoutSeconds: 0.05})
	raw, err = d.Handle(context.Background(), srv.BedrockProviderID(), MethodLookupProvider, payload)
	require.NoError(t, err)
	res := decodeResult[provider.Descriptor](t, raw)
	assert.False(t, res.Success, "lookup for other:0 must not match echo provider sharing id 0")
}

func TestDispatcherLookupProviderByTypeIDMatchesCorrectType(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)

	echoPayload, _ := json.Marshal(startProviderRequest{Name: "e1", Type: "echo"})
	_, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodStartProvider, echoPayload)
	require.NoError(t, err)

	payload, _ := json.Marshal(lookupRequest{Spec: "echo:0", TimeoutSeconds: 2})
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodLookupProvider, payload)
	require.NoError(t, err)
	res := decodeResult[provider.Descriptor](t, raw)
	require.True(t, res.Success)
	assert.Equal(t, "e1", res.Value.Name)
}

func TestDispatcherAddAndRemovePool(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)

	payload, _ := json.Marshal(configOnlyRequest{Config: json.RawMessage(`{}`)})
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodAddPool, payload)
	require.NoError(t, err)
	res := decodeResult[string](t, raw)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Value)

	removePayload, _ := json.Marshal(namedRequest{Name: res.Value})
	raw, err = d.Handle(context.Background(), srv.BedrockProviderID(), MethodRemovePool, removePayload)
	require.NoError(t, err)
	removeRes := decodeResult[json.RawMessage](t, raw)
	assert.True(t, removeRes.Success)
}

func TestDispatcherAddSSGGroup(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)
	payload, _ := json.Marshal(group.Spec{Name: "g1", Bootstrap: group.BootstrapInit})
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodAddSSGGroup, payload)
	require.NoError(t, err)
	res := decodeResult[json.RawMessage](t, raw)
	assert.True(t, res.Success)
}

func TestDispatcherShutdownTriggersFinalize(t *testing.T) {
	srv := newTestServer(t)
	d := NewDispatcher(srv)
	raw, err := d.Handle(context.Background(), srv.BedrockProviderID(), MethodShutdown, nil)
	require.NoError(t, err)
	res := decodeResult[json.RawMessage](t, raw)
	assert.True(t, res.Success)
	srv.WaitForFinalize()
}

func TestAutoNameIsUnique(t *testing.T) {
	a := autoName("pool")
	b := autoName("pool")
	assert.NotEqual(t, a, b)
}
