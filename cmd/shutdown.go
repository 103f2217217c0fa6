package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bedrock-hpc/bedrock/internal/engine"
	"github.com/bedrock-hpc/bedrock/internal/rpc"
	"github.com/bedrock-hpc/bedrock/internal/server"
	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

var (
	shutdownAddresses  []string
	shutdownSSGFile    string
	shutdownProviderID uint16
	shutdownVerbose    int
)

func newShutdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Instruct one or more daemons to finalize",
		Long:  `Concurrently instructs each target engine to finalize remotely.`,
		RunE:  runShutdown,
	}
	cmd.Flags().StringArrayVarP(&shutdownAddresses, "address", "a", nil, "target daemon address (repeatable)")
	cmd.Flags().StringVarP(&shutdownSSGFile, "ssg-file", "s", "", "group file listing target addresses")
	cmd.Flags().Uint16VarP(&shutdownProviderID, "provider-id", "i", server.DefaultBedrockProviderID, "bedrock RPC provider id")
	cmd.Flags().CountVarP(&shutdownVerbose, "verbose", "v", "increase log verbosity")
	return cmd
}

func runShutdown(cmd *cobra.Command, args []string) error {
	logging.Init(logging.LevelFromVerbosity(shutdownVerbose), os.Stderr)

	targets, err := resolveTargets(shutdownAddresses, shutdownSSGFile)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	failures := make(map[string]string)

	g, ctx := errgroup.WithContext(cmd.Context())
	for _, addr := range targets {
		addr := addr
		g.Go(func() error {
			if err := shutdownOne(ctx, addr); err != nil {
				mu.Lock()
				failures[addr] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, addr := range targets {
		if msg, failed := failures[addr]; failed {
			fmt.Printf("%s: error: %s\n", addr, msg)
		} else {
			fmt.Printf("%s: shutdown requested\n", addr)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d targets failed to shut down", len(failures), len(targets))
	}
	return nil
}

func shutdownOne(ctx context.Context, address string) error {
	backend := engine.NewHTTPBackend()
	resp, err := backend.Call(ctx, address, shutdownProviderID, rpc.MethodShutdown, []byte("{}"))
	if err != nil {
		return err
	}
	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}
