// Package cliconfig loads user-local CLI defaults from a YAML file, kept
// separate from the JSON configuration document (specification §3: "JSON is
// the canonical form") since these are operator preferences about how to
// invoke the CLI, not part of the bootstrapped daemon state itself.
// Grounded on giantswarm-muster's internal/config/loader.go, which loads a
// YAML config.yaml from the user's config directory with the same
// missing-file-is-not-an-error fallback.
package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

const (
	userConfigDir  = ".config/bedrock"
	configFileName = "cli.yaml"
)

// Defaults holds the operator-local settings the CLI falls back to when a
// flag is not given explicitly.
type Defaults struct {
	// ModuleSearchPaths is prepended to a bare module library name (one
	// without a path separator) in the configuration document's
	// "libraries" map before it is handed to the Module Registry's loader.
	ModuleSearchPaths []string `yaml:"module_search_paths"`
}

// DefaultPath returns the per-user defaults file path, $HOME/.config/bedrock/cli.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining user home directory: %w", err)
	}
	return filepath.Join(home, userConfigDir, configFileName), nil
}

// Load reads path, returning empty Defaults (not an error) when the file
// does not exist.
func Load(path string) (Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults{}, nil
		}
		return Defaults{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Defaults{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	logging.Info("cliconfig", "loaded CLI defaults from %s", path)
	return d, nil
}

// ResolveLibraryPath prepends the first search path under which name exists
// when path is bare (no directory component), leaving an already-qualified
// or explicit path untouched.
func (d Defaults) ResolveLibraryPath(path string) string {
	if path == "" || filepath.IsAbs(path) || filepath.Base(path) != path {
		return path
	}
	for _, dir := range d.ModuleSearchPaths {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}
