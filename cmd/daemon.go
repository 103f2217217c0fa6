package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bedrock-hpc/bedrock/internal/cliconfig"
	"github.com/bedrock-hpc/bedrock/internal/config"
	"github.com/bedrock-hpc/bedrock/internal/engine"
	"github.com/bedrock-hpc/bedrock/internal/group"
	"github.com/bedrock-hpc/bedrock/internal/rpc"
	"github.com/bedrock-hpc/bedrock/internal/script"
	"github.com/bedrock-hpc/bedrock/internal/server"
	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

var (
	daemonConfigFile   string
	daemonOutputConfig string
	daemonStdin        bool
	daemonJx9          bool
	daemonTOML         bool
	daemonJx9Context   string
	daemonWatchConfig  bool
	daemonVerbose      int
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon [address]",
		Short: "Start the bedrock daemon",
		Long: `Loads a configuration document, bootstraps the Engine, Module, Provider,
Client, and Group Managers in order, and serves the Remote Control RPCs
until terminated locally or by a remote shutdown request.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDaemon,
	}
	cmd.Flags().StringVarP(&daemonConfigFile, "config", "c", "", "configuration document path")
	cmd.Flags().StringVarP(&daemonOutputConfig, "output-config", "o", "", "write the bootstrapped configuration to this path, then keep serving")
	cmd.Flags().BoolVar(&daemonStdin, "stdin", false, "read the configuration document from stdin")
	cmd.Flags().BoolVarP(&daemonJx9, "jx9", "j", false, "treat the configuration source as a script template")
	cmd.Flags().BoolVarP(&daemonTOML, "toml", "t", false, "treat the configuration source as TOML")
	cmd.Flags().StringVar(&daemonJx9Context, "jx9-context", "", "comma-separated k=v pairs bound into script-template evaluation")
	cmd.Flags().BoolVar(&daemonWatchConfig, "watch-config", false, "log a warning when --config's file is edited externally (requires --config)")
	cmd.Flags().CountVarP(&daemonVerbose, "verbose", "v", "increase log verbosity")
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logging.Init(logging.LevelFromVerbosity(daemonVerbose), os.Stderr)

	address := ""
	if len(args) == 1 {
		address = args[0]
	}

	source, format, err := readDaemonSource()
	if err != nil {
		return err
	}

	scripts := script.NewManager(script.NewDefaultEvaluator())
	pipeline := config.NewPipeline(scripts)
	doc, err := pipeline.Process(config.Input{
		Source:       source,
		Format:       format,
		Params:       parseJx9Context(daemonJx9Context),
		ProcessCount: 1,
	})
	if err != nil {
		return err
	}

	if defaultsPath, derr := cliconfig.DefaultPath(); derr == nil {
		defaults, derr := cliconfig.Load(defaultsPath)
		if derr != nil {
			logging.Error("cmd", derr, "loading CLI defaults")
		} else {
			for name, path := range doc.Libraries {
				doc.Libraries[name] = defaults.ResolveLibraryPath(path)
			}
		}
	}

	backend := engine.NewHTTPBackend()
	membership := &group.StaticMembership{SelfRank: 0, Addresses: []string{address}}

	srv, err := server.Bootstrap(doc, address, server.Dependencies{
		Backend:      backend,
		Scripts:      scripts,
		GroupFactory: group.StaticFactory(membership),
		Membership:   membership,
	})
	if err != nil {
		return err
	}
	backend.Serve(rpc.NewDispatcher(srv).Handle)
	logging.Info("cmd", "daemon listening on %s", srv.Engine.Address())

	if daemonWatchConfig && daemonConfigFile != "" {
		changed, stop, err := config.WatchFile(daemonConfigFile)
		if err != nil {
			logging.Error("cmd", err, "watching %s", daemonConfigFile)
		} else {
			defer stop()
			go func() {
				for range changed {
					logging.Warn("cmd", "%s changed on disk; reconfigure via the Remote Control RPC surface to apply it", daemonConfigFile)
				}
			}()
		}
	}

	if daemonOutputConfig != "" {
		if err := writeCurrentConfig(srv, daemonOutputConfig); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("cmd", "received termination signal, finalizing")
		srv.Finalize()
	}()

	srv.WaitForFinalize()
	return nil
}

func writeCurrentConfig(srv *server.Server, path string) error {
	doc, err := srv.GetCurrentConfig()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readDaemonSource() (string, config.Format, error) {
	var raw []byte
	var err error
	switch {
	case daemonStdin:
		raw, err = io.ReadAll(os.Stdin)
	case daemonConfigFile != "":
		raw, err = os.ReadFile(daemonConfigFile)
	default:
		return "", 0, fmt.Errorf("one of --stdin or --config must be given")
	}
	if err != nil {
		return "", 0, fmt.Errorf("reading configuration source: %w", err)
	}

	format := config.FormatJSON
	switch {
	case daemonJx9:
		format = config.FormatScriptTemplate
	case daemonTOML:
		format = config.FormatTOML
	}
	return string(raw), format, nil
}

// parseJx9Context parses "k=v,k2=v2" into a variable map for script-template
// evaluation (specification §6 daemon option "--jx9-context k=v,…"). Each
// value is parsed as JSON when possible, falling back to a bare string.
func parseJx9Context(raw string) map[string]interface{} {
	out := make(map[string]interface{})
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		var decoded interface{}
		if err := json.Unmarshal([]byte(val), &decoded); err == nil {
			out[key] = decoded
		} else {
			out[key] = val
		}
	}
	return out
}
