package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/internal/client"
	"github.com/bedrock-hpc/bedrock/internal/config"
	"github.com/bedrock-hpc/bedrock/internal/depgraph"
	"github.com/bedrock-hpc/bedrock/internal/engine"
	"github.com/bedrock-hpc/bedrock/internal/group"
	"github.com/bedrock-hpc/bedrock/internal/module"
	"github.com/bedrock-hpc/bedrock/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoFactory struct {
	module.UnsupportedFactory
	deregistered int
}

func (f *echoFactory) Register(module.RegisterArgs) (interface{}, error) { return "handle", nil }
func (f *echoFactory) Deregister(interface{}) error                      { f.deregistered++; return nil }
func (f *echoFactory) GetConfig(interface{}) (string, error)             { return "{}", nil }
func (f *echoFactory) InitClient(module.ClientArgs) (interface{}, error) { return "handle", nil }
func (f *echoFactory) FinalizeClient(interface{}) error                  { return nil }
func (f *echoFactory) GetClientConfig(interface{}) (string, error)       { return "{}", nil }
func (f *echoFactory) Dependencies(string) ([]module.DependencyDeclaration, error) {
	return nil, nil
}

type stubScripts struct{}

func (stubScripts) EvaluateCondition(string, map[string]interface{}) (bool, error) { return true, nil }
func (stubScripts) ExecuteQuery(string, map[string]interface{}) (string, error)    { return "", nil }

func testDeps(membership *group.StaticMembership) Dependencies {
	return Dependencies{
		Backend:      engine.NewLoopback(engine.NewRouter()),
		Scripts:      stubScripts{},
		GroupFactory: group.StaticFactory(membership),
		Membership:   membership,
	}
}

func TestBootstrapMinimalDocument(t *testing.T) {
	doc := &config.Document{
		Margo:   json.RawMessage(`{}`),
		Bedrock: config.BedrockSpec{},
	}
	srv, err := Bootstrap(doc, "loopback://solo", testDeps(&group.StaticMembership{}))
	require.NoError(t, err)
	assert.Equal(t, uint16(DefaultBedrockProviderID), srv.BedrockProviderID())
	assert.Equal(t, 0, srv.Providers.NumProviders())
}

// TestBootstrapWithProvidersAndClients exercises the same construction steps
// Bootstrap performs, but swaps RegisterFactory in for the module.Load call
// Bootstrap itself makes, since Load always goes through Go's real plugin
// loader and cannot open an in-memory test factory.
func TestBootstrapWithProvidersAndClients(t *testing.T) {
	doc := &config.Document{
		Margo:     json.RawMessage(`{}`),
		Providers: []config.ProviderSpec{{Name: "p1", Type: "echo"}},
		Clients:   []config.ClientSpec{{Name: "c1", Type: "echo"}},
	}
	deps := testDeps(&group.StaticMembership{})

	eng, err := engine.NewManager(deps.Backend, "loopback://solo", string(doc.Margo))
	require.NoError(t, err)
	modules := module.NewRegistry()
	require.NoError(t, modules.RegisterFactory("echo", &echoFactory{}))

	providers := provider.NewManager(modules, eng.Handle())
	clients := client.NewManager(modules, eng.Handle())
	resolver := depgraph.New(eng, providers, clients, group.NewManager(deps.GroupFactory), modules, deps.Membership, DefaultBedrockProviderID, time.Second)

	srv := &Server{
		Engine:    eng,
		Scripts:   deps.Scripts,
		Groups:    group.NewManager(deps.GroupFactory),
		Modules:   modules,
		Providers: providers,
		Clients:   clients,
		Resolver:  resolver,
	}

	for _, p := range doc.Providers {
		_, err := providers.AddProvider(toProviderDescription(p), resolver)
		require.NoError(t, err)
	}
	for _, c := range doc.Clients {
		_, err := clients.AddClient(toClientDescription(c), resolver)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, srv.Providers.NumProviders())
	assert.Equal(t, 1, srv.Clients.NumClients())

	current, err := srv.GetCurrentConfig()
	require.NoError(t, err)
	require.Len(t, current.Providers, 1)
	assert.Equal(t, "p1", current.Providers[0].Name)
	require.Len(t, current.Clients, 1)
	assert.Equal(t, "c1", current.Clients[0].Name)

	srv.Finalize()
	assert.Equal(t, 0, srv.Providers.NumProviders())
	assert.Equal(t, 0, srv.Clients.NumClients())
}

func TestBootstrapMissingModuleFails(t *testing.T) {
	doc := &config.Document{
		Margo:     json.RawMessage(`{}`),
		Providers: []config.ProviderSpec{{Name: "p1", Type: "missing"}},
	}
	_, err := Bootstrap(doc, "loopback://solo", testDeps(&group.StaticMembership{}))
	require.Error(t, err)
	assert.True(t, berrors.Is(err, berrors.KindModuleMissing))
}

func TestBootstrapDuplicateGroupNameFails(t *testing.T) {
	doc := &config.Document{
		Margo: json.RawMessage(`{}`),
		SSG: []config.SSGSpec{
			{Name: "g1", Bootstrap: "init"},
			{Name: "g1", Bootstrap: "init"},
		},
	}
	_, err := Bootstrap(doc, "loopback://solo", testDeps(&group.StaticMembership{}))
	require.Error(t, err)
	assert.True(t, berrors.Is(err, berrors.KindNameCollision))
}

func TestBootstrapBadLibraryLoadFails(t *testing.T) {
	doc := &config.Document{
		Margo:     json.RawMessage(`{}`),
		Libraries: map[string]string{"nope": "/nonexistent/library.so"},
	}
	_, err := Bootstrap(doc, "loopback://solo", testDeps(&group.StaticMembership{}))
	require.Error(t, err)
}
