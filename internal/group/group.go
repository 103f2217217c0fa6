// Package group implements the Group Manager (specification §4.5): an
// adapter over the external membership provider named in specification §1.
// Bedrock's core only defines the Provider contract and the address-parsing
// logic; an actual membership implementation (MPI, PMIx, or a static file)
// is a named external collaborator, consistent with the teacher's practice
// of keeping Kubernetes/Teleport specifics behind internal/api adapters
// rather than importing them directly into orchestration logic.
package group

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
)

// Provider is the opaque external membership provider (specification §1,
// GLOSSARY "Group"). Implementations resolve addresses by rank or member id
// and expose the local process's rank.
type Provider interface {
	Rank() int
	AddressOf(rank int) (string, bool)
	AddressOfMember(memberID int) (string, bool)
	MemberCount() int
}

// Bootstrap names the methods enumerated in specification §4.5.
type Bootstrap string

const (
	BootstrapInit        Bootstrap = "init"
	BootstrapJoin        Bootstrap = "join"
	BootstrapMPI         Bootstrap = "mpi"
	BootstrapPMIx        Bootstrap = "pmix"
	BootstrapInitOrJoin  Bootstrap = "init|join"
	BootstrapMPIOrJoin   Bootstrap = "mpi|join"
	BootstrapPMIxOrJoin  Bootstrap = "pmix|join"
)

// resolveChoice implements the "a|b" disambiguation rule: choose b when the
// group file exists, otherwise a.
func resolveChoice(b Bootstrap, groupFile string) Bootstrap {
	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 {
		return b
	}
	if groupFile != "" {
		if _, err := os.Stat(groupFile); err == nil {
			return Bootstrap(parts[1])
		}
	}
	return Bootstrap(parts[0])
}

// Spec is one entry of the configuration document's top-level "ssg" array.
type Spec struct {
	Name       string    `json:"name"`
	Pool       string    `json:"pool,omitempty"`
	Credential string    `json:"credential,omitempty"`
	GroupFile  string    `json:"group_file,omitempty"`
	Bootstrap  Bootstrap `json:"bootstrap"`
	Swim       bool      `json:"swim,omitempty"`
}

// Factory constructs a Provider for a resolved bootstrap method. The real
// implementation (MPI/PMIx-backed) lives outside this module's scope; tests
// and single-process deployments use StaticFactory.
type Factory func(spec Spec, resolved Bootstrap) (Provider, error)

// Manager is the Group Manager: it creates groups from configuration and
// keeps them addressable by name.
type Manager struct {
	factory Factory

	mu     sync.RWMutex
	groups map[string]Provider
}

// NewManager creates a Manager that builds groups via factory.
func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory, groups: make(map[string]Provider)}
}

// Create builds a group from spec, writes the group file (if one is given)
// only when this process is rank 0 after creation, and records the group
// under spec.Name.
func (m *Manager) Create(spec Spec) (Provider, error) {
	resolved := resolveChoice(spec.Bootstrap, spec.GroupFile)
	provider, err := m.factory(spec, resolved)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindEngineError, err, "creating group %q (bootstrap=%s)", spec.Name, resolved)
	}

	m.mu.Lock()
	if _, exists := m.groups[spec.Name]; exists {
		m.mu.Unlock()
		return nil, berrors.New(berrors.KindNameCollision, "group %q already exists", spec.Name)
	}
	m.groups[spec.Name] = provider
	m.mu.Unlock()

	if spec.GroupFile != "" && provider.Rank() == 0 {
		if err := writeGroupFile(spec.GroupFile, spec.Name, provider); err != nil {
			return nil, berrors.Wrap(berrors.KindEngineError, err, "writing group file for %q", spec.Name)
		}
	}
	return provider, nil
}

// GroupFile is the serialized form of a group written to spec.GroupFile on
// rank 0, and read back by the query/shutdown CLI's "-s|--ssg-file" option
// to discover target addresses without an explicit "-a" per member.
type GroupFile struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
}

func writeGroupFile(path, name string, p Provider) error {
	doc := GroupFile{Name: name}
	for i := 0; i < p.MemberCount(); i++ {
		addr, ok := p.AddressOf(i)
		if !ok {
			continue
		}
		doc.Addresses = append(doc.Addresses, addr)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadGroupFile loads a GroupFile previously written by Create.
func ReadGroupFile(path string) (GroupFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GroupFile{}, berrors.Wrap(berrors.KindConfigInvalid, err, "reading group file %q", path)
	}
	var doc GroupFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return GroupFile{}, berrors.Wrap(berrors.KindConfigInvalid, err, "parsing group file %q", path)
	}
	return doc, nil
}

// Get returns the named group.
func (m *Manager) Get(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.groups[name]
	return p, ok
}

// Address parses and resolves a "group://<name>/[#]<integer>" address
// (specification §4.5) against the named group.
func (m *Manager) Address(spec string) (string, error) {
	name, selector, byMember, err := ParseAddress(spec)
	if err != nil {
		return "", err
	}
	provider, ok := m.Get(name)
	if !ok {
		return "", berrors.New(berrors.KindDependencyUnresolved, "group %q not found", name)
	}
	if byMember {
		addr, ok := provider.AddressOfMember(selector)
		if !ok {
			return "", berrors.New(berrors.KindDependencyUnresolved, "group %q has no member %d", name, selector)
		}
		return addr, nil
	}
	addr, ok := provider.AddressOf(selector)
	if !ok {
		return "", berrors.New(berrors.KindDependencyUnresolved, "group %q has no rank %d", name, selector)
	}
	return addr, nil
}

// ParseAddress parses "group://<name>/[#]<integer>" into its components.
func ParseAddress(spec string) (name string, selector int, byMember bool, err error) {
	const prefix = "group://"
	if !strings.HasPrefix(spec, prefix) {
		return "", 0, false, berrors.New(berrors.KindConfigInvalid, "not a group address: %q", spec)
	}
	rest := spec[len(prefix):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "", 0, false, berrors.New(berrors.KindConfigInvalid, "malformed group address: %q", spec)
	}
	name = rest[:slash]
	tail := rest[slash+1:]
	if strings.HasPrefix(tail, "#") {
		byMember = true
		tail = tail[1:]
	}
	n, convErr := strconv.Atoi(tail)
	if convErr != nil {
		return "", 0, false, berrors.Wrap(berrors.KindConfigInvalid, convErr, "malformed group selector in %q", spec)
	}
	return name, n, byMember, nil
}
