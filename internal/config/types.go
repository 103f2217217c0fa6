// Package config implements the Configuration Pipeline (specification
// §4.2): it parses JSON/TOML source documents, expands script templates,
// filters conditional sections, normalizes shorthand forms, and validates
// each top-level section's schema. Grounded on giantswarm-muster's
// internal/config package (loader.go, validation.go), generalized with a
// script-template and TOML front end the teacher does not have.
package config

import "encoding/json"

// Document is the canonical, validated configuration object the rest of the
// bootstrap pipeline consumes (specification §3 "Aggregate Configuration").
type Document struct {
	Margo     json.RawMessage   `json:"margo"`
	Libraries map[string]string `json:"libraries,omitempty"`
	Providers []ProviderSpec    `json:"providers,omitempty"`
	Clients   []ClientSpec      `json:"clients,omitempty"`
	SSG       []SSGSpec         `json:"ssg,omitempty"`
	Bedrock   BedrockSpec       `json:"bedrock"`
}

// DependencySet maps a component's declared slot names to the ordered list
// of dependency-specification strings bound to that slot, after the
// pipeline's singleton-string/array normalization (specification §4.2 step
// 3, §9 "Dependency flags").
type DependencySet map[string][]string

// ProviderSpec is one entry of the configuration document's "providers"
// array (specification §6).
type ProviderSpec struct {
	Name         string          `json:"name" mapstructure:"name"`
	Type         string          `json:"type" mapstructure:"type"`
	ProviderID   *uint16         `json:"provider_id,omitempty" mapstructure:"provider_id"`
	Pool         string          `json:"pool,omitempty" mapstructure:"pool"`
	Tags         []string        `json:"tags,omitempty" mapstructure:"tags"`
	Dependencies DependencySet   `json:"dependencies,omitempty" mapstructure:"dependencies"`
	Config       json.RawMessage `json:"config,omitempty" mapstructure:"-"`
}

// ClientSpec is one entry of the configuration document's "clients" array.
type ClientSpec struct {
	Name         string          `json:"name" mapstructure:"name"`
	Type         string          `json:"type" mapstructure:"type"`
	Tags         []string        `json:"tags,omitempty" mapstructure:"tags"`
	Dependencies DependencySet   `json:"dependencies,omitempty" mapstructure:"dependencies"`
	Config       json.RawMessage `json:"config,omitempty" mapstructure:"-"`
}

// SSGSpec is one entry of the configuration document's "ssg" array
// (specification §4.5/§6). Kept free of any internal/group import so the
// pipeline has no dependency on the Group Manager's concrete Provider type;
// internal/server converts this into a group.Spec when bootstrapping.
type SSGSpec struct {
	Name       string `json:"name" mapstructure:"name"`
	Pool       string `json:"pool,omitempty" mapstructure:"pool"`
	Credential string `json:"credential,omitempty" mapstructure:"credential"`
	GroupFile  string `json:"group_file,omitempty" mapstructure:"group_file"`
	Bootstrap  string `json:"bootstrap" mapstructure:"bootstrap"`
	Swim       bool   `json:"swim,omitempty" mapstructure:"swim"`
}

// BedrockSpec is the configuration document's "bedrock" section
// (specification §6).
type BedrockSpec struct {
	ProviderID                  *uint16 `json:"provider_id,omitempty" mapstructure:"provider_id"`
	Pool                        string  `json:"pool,omitempty" mapstructure:"pool"`
	DependencyResolutionTimeout float64 `json:"dependency_resolution_timeout,omitempty" mapstructure:"dependency_resolution_timeout"`
}

// DefaultDependencyResolutionTimeoutSeconds is used when the configuration
// document does not specify bedrock.dependency_resolution_timeout
// (specification §5: "default 30 seconds").
const DefaultDependencyResolutionTimeoutSeconds = 30.0
