package group

import (
	"path/filepath"
	"testing"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		name         string
		spec         string
		wantName     string
		wantSelector int
		wantByMember bool
		wantErr      bool
	}{
		{name: "by rank", spec: "group://mygroup/2", wantName: "mygroup", wantSelector: 2},
		{name: "by member", spec: "group://mygroup/#5", wantName: "mygroup", wantSelector: 5, wantByMember: true},
		{name: "missing prefix", spec: "mygroup/2", wantErr: true},
		{name: "missing slash", spec: "group://mygroup", wantErr: true},
		{name: "non-numeric selector", spec: "group://mygroup/abc", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name, selector, byMember, err := ParseAddress(tc.spec)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, name)
			assert.Equal(t, tc.wantSelector, selector)
			assert.Equal(t, tc.wantByMember, byMember)
		})
	}
}

func TestResolveChoice(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.json")
	require.NoError(t, writeGroupFile(existing, "g", &StaticMembership{Addresses: []string{"a"}}))
	missing := filepath.Join(dir, "missing.json")

	assert.Equal(t, BootstrapJoin, resolveChoice(BootstrapInitOrJoin, existing))
	assert.Equal(t, BootstrapInit, resolveChoice(BootstrapInitOrJoin, missing))
	assert.Equal(t, BootstrapMPI, resolveChoice(BootstrapMPI, missing))
}

func TestManagerCreateAndAddress(t *testing.T) {
	membership := &StaticMembership{SelfRank: 0, Addresses: []string{"addr-0", "addr-1", "addr-2"}}
	mgr := NewManager(StaticFactory(membership))

	_, err := mgr.Create(Spec{Name: "g1", Bootstrap: BootstrapInit})
	require.NoError(t, err)

	addr, err := mgr.Address("group://g1/1")
	require.NoError(t, err)
	assert.Equal(t, "addr-1", addr)

	addr, err = mgr.Address("group://g1/#2")
	require.NoError(t, err)
	assert.Equal(t, "addr-2", addr)
}

func TestManagerCreateDuplicateRejected(t *testing.T) {
	membership := &StaticMembership{Addresses: []string{"a"}}
	mgr := NewManager(StaticFactory(membership))

	_, err := mgr.Create(Spec{Name: "g1"})
	require.NoError(t, err)

	_, err = mgr.Create(Spec{Name: "g1"})
	require.Error(t, err)
	assert.True(t, berrors.Is(err, berrors.KindNameCollision))
}

func TestManagerAddressUnknownGroup(t *testing.T) {
	mgr := NewManager(StaticFactory(&StaticMembership{}))
	_, err := mgr.Address("group://missing/0")
	require.Error(t, err)
	assert.True(t, berrors.Is(err, berrors.KindDependencyUnresolved))
}

func TestGroupFileRoundTrip(t *testing.T) {
	membership := &StaticMembership{SelfRank: 0, Addresses: []string{"addr-0", "addr-1"}}
	mgr := NewManager(StaticFactory(membership))

	path := filepath.Join(t.TempDir(), "group.json")
	_, err := mgr.Create(Spec{Name: "g1", GroupFile: path, Bootstrap: BootstrapInit})
	require.NoError(t, err)

	gf, err := ReadGroupFile(path)
	require.NoError(t, err)
	assert.Equal(t, "g1", gf.Name)
	assert.Equal(t, []string{"addr-0", "addr-1"}, gf.Addresses)
}

func TestGroupFileNotWrittenForNonZeroRank(t *testing.T) {
	membership := &StaticMembership{SelfRank: 1, Addresses: []string{"addr-0", "addr-1"}}
	mgr := NewManager(StaticFactory(membership))

	path := filepath.Join(t.TempDir(), "group.json")
	_, err := mgr.Create(Spec{Name: "g1", GroupFile: path, Bootstrap: BootstrapInit})
	require.NoError(t, err)

	_, err = ReadGroupFile(path)
	assert.Error(t, err)
}

func TestReadGroupFileMissing(t *testing.T) {
	_, err := ReadGroupFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, berrors.Is(err, berrors.KindConfigInvalid))
}
