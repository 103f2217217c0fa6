package group

import "github.com/bedrock-hpc/bedrock/internal/berrors"

// StaticMembership is a fixed address list, used to back StaticFactory for
// tests and single-process deployments where no real MPI/PMIx/SWIM runtime
// is available. It's the "static file"-style membership bootstrap allowed
// by specification §4.5 ("the group file exists") reduced to its simplest
// useful form: an explicit list handed in by the caller.
type StaticMembership struct {
	SelfRank  int
	Addresses []string // index = rank = member id
}

func (s *StaticMembership) Rank() int { return s.SelfRank }

func (s *StaticMembership) AddressOf(rank int) (string, bool) {
	if rank < 0 || rank >= len(s.Addresses) {
		return "", false
	}
	return s.Addresses[rank], true
}

func (s *StaticMembership) AddressOfMember(memberID int) (string, bool) {
	return s.AddressOf(memberID)
}

func (s *StaticMembership) MemberCount() int { return len(s.Addresses) }

// StaticFactory returns a Factory that always returns membership, ignoring
// the bootstrap method requested (specification leaves mpi/pmix/swim
// specifics to the external membership library; StaticFactory exists purely
// so Bedrock's core can be exercised without one).
func StaticFactory(membership *StaticMembership) Factory {
	return func(spec Spec, resolved Bootstrap) (Provider, error) {
		if membership == nil {
			return nil, berrors.New(berrors.KindEngineError, "no static membership configured for group %q", spec.Name)
		}
		return membership, nil
	}
}
