package config

import (
	"encoding/json"

	"github.com/pelletier/go-toml/v2"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
)

// tomlToJSON converts a TOML source document to its canonical JSON form
// (specification §4.2 step 2: "TOML is input-only"; §9: "JSON is the
// canonical form").
func tomlToJSON(src string) ([]byte, error) {
	var decoded map[string]interface{}
	if err := toml.Unmarshal([]byte(src), &decoded); err != nil {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "parsing TOML")
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindConfigInvalid, err, "re-encoding TOML as JSON")
	}
	return out, nil
}
