// Package depgraph implements the Dependency Resolver (specification §4.6):
// it parses the Dependency Specification grammar of specification §3, routes
// reserved engine tags to the Engine Manager, resolves local names against
// the Provider and Client Managers, and resolves remote addresses through
// the Group Manager and a provider-lookup RPC against the target's bedrock
// provider. Grounded on giantswarm-muster's internal/dependency resolution
// graph (topological lookups against a registry of named components),
// generalized here to the specification's local/remote split.
package depgraph

import (
	"strconv"
	"strings"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
)

// Spec is one parsed Dependency Specification string (specification §3):
//
//	spec      := ident [ ':' providerId ] [ '@' locator ]
//	ident     := [A-Za-z_][A-Za-z0-9_]*
//	providerId:= unsigned integer <= 65535
//	locator   := 'local' | integer-rank | raw-address | group-URL
type Spec struct {
	Ident      string
	ProviderID *uint16
	Locator    string // empty when absent
}

// HasLocator reports whether the spec names an "@locator" suffix.
func (s Spec) HasLocator() bool { return s.Locator != "" }

// ParseSpec parses a Dependency Specification string.
func ParseSpec(raw string) (Spec, error) {
	rest := raw
	var locator string
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		locator = rest[at+1:]
		rest = rest[:at]
		if locator == "" {
			return Spec{}, berrors.New(berrors.KindConfigInvalid, "empty locator in dependency spec %q", raw)
		}
	}

	var providerID *uint16
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		idStr := rest[colon+1:]
		rest = rest[:colon]
		n, err := strconv.ParseUint(idStr, 10, 16)
		if err != nil {
			return Spec{}, berrors.Wrap(berrors.KindConfigInvalid, err, "invalid provider id in dependency spec %q", raw)
		}
		id := uint16(n)
		providerID = &id
	}

	if rest == "" || !isIdent(rest) {
		return Spec{}, berrors.New(berrors.KindConfigInvalid, "invalid identifier in dependency spec %q", raw)
	}

	return Spec{Ident: rest, ProviderID: providerID, Locator: locator}, nil
}

func isIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// LocatorKind classifies a parsed locator string, per specification §4.6
// step 4.
type LocatorKind int

const (
	LocatorLocal LocatorKind = iota
	LocatorRank
	LocatorAddress
	LocatorGroup
)

// ClassifyLocator inspects a non-empty locator string.
func ClassifyLocator(locator string) (LocatorKind, int, string) {
	if locator == "local" {
		return LocatorLocal, 0, ""
	}
	if strings.HasPrefix(locator, "group://") || strings.HasPrefix(locator, "ssg://") {
		return LocatorGroup, 0, locator
	}
	if n, err := strconv.Atoi(locator); err == nil {
		return LocatorRank, n, ""
	}
	return LocatorAddress, 0, locator
}
