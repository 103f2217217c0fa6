package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDaemonCmdRegistersFlags(t *testing.T) {
	cmd := newDaemonCmd()
	for _, name := range []string{"config", "output-config", "stdin", "jx9", "toml", "jx9-context", "watch-config", "verbose"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}
}

func TestNewQueryCmdRegistersFlags(t *testing.T) {
	cmd := newQueryCmd()
	for _, name := range []string{"address", "ssg-file", "provider-id", "pretty", "verbose"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}
}

func TestNewShutdownCmdRegistersFlags(t *testing.T) {
	cmd := newShutdownCmd()
	for _, name := range []string{"address", "ssg-file", "provider-id", "verbose"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}
}

func TestRootCmdHasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["daemon"])
	assert.True(t, names["query"])
	assert.True(t, names["shutdown"])
}
