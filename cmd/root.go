// Package cmd implements the CLI surface of specification §6: daemon,
// query, and shutdown as subcommands of one binary. Grounded on
// giantswarm-muster's cmd/root.go (cobra root command, SetVersion/Execute
// exported for main, exit-code dispatch on the returned error).
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bedrock-hpc/bedrock/internal/berrors"
	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

// Exit codes, mirroring the teacher's documented convention of small
// integers keyed to error categories rather than a bare 1/0 split.
const (
	ExitCodeSuccess     = 0
	ExitCodeError       = 1
	ExitCodeConfigError = 2
)

var rootCmd = &cobra.Command{
	Use:   "bedrock",
	Short: "Bootstrap and control composite RPC services",
	Long: `bedrock loads a configuration document describing providers, clients,
pools, and group memberships, registers them against an RPC engine, and
exposes a remote control surface for runtime introspection and mutation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion injects the build-time version string, called from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command, translating a returned error into a
// process exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "bedrock version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		logging.Error("cmd", err, "command failed")
		if berrors.Is(err, berrors.KindConfigInvalid) {
			os.Exit(ExitCodeConfigError)
		}
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newShutdownCmd())
}
