package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticMembership(t *testing.T) {
	m := &StaticMembership{SelfRank: 1, Addresses: []string{"a0", "a1", "a2"}}

	assert.Equal(t, 1, m.Rank())
	assert.Equal(t, 3, m.MemberCount())

	addr, ok := m.AddressOf(2)
	require.True(t, ok)
	assert.Equal(t, "a2", addr)

	_, ok = m.AddressOf(5)
	assert.False(t, ok)

	addr, ok = m.AddressOfMember(0)
	require.True(t, ok)
	assert.Equal(t, "a0", addr)
}

func TestStaticFactoryRejectsNilMembership(t *testing.T) {
	factory := StaticFactory(nil)
	_, err := factory(Spec{Name: "g"}, BootstrapInit)
	require.Error(t, err)
}

func TestStaticFactoryIgnoresRequestedBootstrap(t *testing.T) {
	membership := &StaticMembership{Addresses: []string{"a"}}
	factory := StaticFactory(membership)

	p, err := factory(Spec{Name: "g"}, BootstrapPMIx)
	require.NoError(t, err)
	assert.Same(t, membership, p)
}
