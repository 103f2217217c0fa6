package config

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
)

// Format names the source document's encoding (specification §4.2 inputs).
type Format int

const (
	FormatJSON Format = iota
	FormatTOML
	FormatScriptTemplate
)

// Pipeline is the Configuration Pipeline (specification §4.2).
type Pipeline struct {
	scripts Evaluator
}

// NewPipeline builds a Pipeline that delegates script evaluation to
// scripts (typically an *internal/script.Manager).
func NewPipeline(scripts Evaluator) *Pipeline {
	return &Pipeline{scripts: scripts}
}

// Input bundles one invocation's arguments.
type Input struct {
	Source       string
	Format       Format
	Params       map[string]interface{}
	Rank         int
	ProcessCount int
}

// Process runs the five pipeline steps of specification §4.2 and returns the
// canonical, validated Document. Conditional filtering and rank selection
// run before shorthand expansion, so expansion only sees surviving entries.
func (p *Pipeline) Process(in Input) (*Document, error) {
	jsonSrc, err := p.toJSON(in)
	if err != nil {
		return nil, err
	}

	var tree interface{}
	if err := json.Unmarshal(jsonSrc, &tree); err != nil {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "parsing configuration JSON")
	}

	filtered, keep, err := filterConditional(tree, p.scripts)
	if err != nil {
		return nil, err
	}
	if !keep {
		return nil, berrors.New(berrors.KindConfigInvalid, "top-level configuration was filtered out by __if__")
	}

	selected, err := selectByRank(filtered, in.Rank, in.ProcessCount)
	if err != nil {
		return nil, err
	}

	root, ok := selected.(map[string]interface{})
	if !ok {
		return nil, berrors.New(berrors.KindConfigInvalid, "configuration document must be a JSON object")
	}

	expandSimplifiedForms(root)

	doc, err := decode(root)
	if err != nil {
		return nil, err
	}

	if doc.Bedrock.DependencyResolutionTimeout == 0 {
		doc.Bedrock.DependencyResolutionTimeout = DefaultDependencyResolutionTimeoutSeconds
	}

	if errs := Validate(doc); errs.HasErrors() {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, errs, "configuration failed validation")
	}

	return doc, nil
}

// toJSON runs steps 1-2 of specification §4.2: script-template evaluation
// and TOML-to-JSON conversion.
func (p *Pipeline) toJSON(in Input) ([]byte, error) {
	switch in.Format {
	case FormatScriptTemplate:
		result, err := p.scripts.ExecuteQuery(in.Source, in.Params)
		if err != nil {
			return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "evaluating script template")
		}
		return []byte(result), nil
	case FormatTOML:
		return tomlToJSON(in.Source)
	default:
		return []byte(in.Source), nil
	}
}

// decode converts the filtered, normalized JSON tree into a typed Document
// via mapstructure (grounded on bittoy-rule's use of the same library for
// generic-to-typed configuration decoding), handling each entry's "config"
// sub-document as an opaque json.RawMessage instead of a generic map.
func decode(root map[string]interface{}) (*Document, error) {
	doc := &Document{
		Libraries: map[string]string{},
	}

	if margo, ok := root["margo"]; ok {
		raw, err := json.Marshal(margo)
		if err != nil {
			return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "re-encoding margo section")
		}
		doc.Margo = raw
	}

	if libs, ok := root["libraries"].(map[string]interface{}); ok {
		for name, path := range libs {
			if path == nil {
				doc.Libraries[name] = ""
				continue
			}
			s, ok := path.(string)
			if !ok {
				return nil, berrors.New(berrors.KindConfigInvalid, "libraries.%s must be a string or null", name)
			}
			doc.Libraries[name] = s
		}
	}

	if err := decodeEntries(root["providers"], &doc.Providers); err != nil {
		return nil, err
	}
	if err := decodeEntries(root["clients"], &doc.Clients); err != nil {
		return nil, err
	}

	if ssg, ok := root["ssg"]; ok {
		if err := mapstructure.Decode(ssg, &doc.SSG); err != nil {
			return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding ssg section")
		}
	}

	if bedrock, ok := root["bedrock"]; ok {
		if err := mapstructure.Decode(bedrock, &doc.Bedrock); err != nil {
			return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "decoding bedrock section")
		}
	}

	return doc, nil
}

// decodeEntries decodes a "providers"/"clients" array into a slice of typed
// specs, pulling each entry's "config" field out as raw JSON instead of
// letting mapstructure flatten it into a generic map.
func decodeEntries[T interface {
	ProviderSpec | ClientSpec
}](section interface{}, out *[]T) error {
	items, ok := section.([]interface{})
	if !ok {
		return nil
	}
	decoded := make([]T, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return berrors.New(berrors.KindConfigInvalid, "entry must be a JSON object")
		}
		var spec T
		if err := mapstructure.Decode(obj, &spec); err != nil {
			return berrors.Wrap(berrors.KindConfigInvalid, err, "decoding entry")
		}
		if cfg, ok := obj["config"]; ok {
			raw, err := json.Marshal(cfg)
			if err != nil {
				return berrors.Wrap(berrors.KindConfigInvalid, err, "re-encoding entry config")
			}
			switch v := any(&spec).(type) {
			case *ProviderSpec:
				v.Config = raw
			case *ClientSpec:
				v.Config = raw
			}
		}
		decoded = append(decoded, spec)
	}
	*out = decoded
	return nil
}
