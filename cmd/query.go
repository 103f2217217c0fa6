package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bedrock-hpc/bedrock/internal/engine"
	"github.com/bedrock-hpc/bedrock/internal/group"
	"github.com/bedrock-hpc/bedrock/internal/rpc"
	"github.com/bedrock-hpc/bedrock/internal/server"
	"github.com/bedrock-hpc/bedrock/pkg/logging"
)

var (
	queryAddresses  []string
	querySSGFile    string
	queryProviderID uint16
	queryPretty     bool
	queryVerbose    int
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the current configuration of one or more daemons",
		Long: `Concurrently requests get_config from each target address and prints a
JSON map of address to configuration, or a summary table with --pretty.`,
		RunE: runQuery,
	}
	cmd.Flags().StringArrayVarP(&queryAddresses, "address", "a", nil, "target daemon address (repeatable)")
	cmd.Flags().StringVarP(&querySSGFile, "ssg-file", "s", "", "group file listing target addresses")
	cmd.Flags().Uint16VarP(&queryProviderID, "provider-id", "i", server.DefaultBedrockProviderID, "bedrock RPC provider id")
	cmd.Flags().BoolVarP(&queryPretty, "pretty", "p", false, "print a summary table instead of raw JSON")
	cmd.Flags().CountVarP(&queryVerbose, "verbose", "v", "increase log verbosity")
	return cmd
}

// resolveTargets merges explicit -a addresses with the ones listed in a
// -s/--ssg-file group file.
func resolveTargets(addresses []string, ssgFile string) ([]string, error) {
	targets := append([]string{}, addresses...)
	if ssgFile != "" {
		gf, err := group.ReadGroupFile(ssgFile)
		if err != nil {
			return nil, err
		}
		targets = append(targets, gf.Addresses...)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one of --address or --ssg-file must be given")
	}
	return targets, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	logging.Init(logging.LevelFromVerbosity(queryVerbose), os.Stderr)

	targets, err := resolveTargets(queryAddresses, querySSGFile)
	if err != nil {
		return err
	}

	results := make(map[string]json.RawMessage, len(targets))
	errs := make(map[string]string, len(targets))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(cmd.Context())
	for _, addr := range targets {
		addr := addr
		g.Go(func() error {
			resp, err := queryOne(ctx, addr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[addr] = err.Error()
			} else {
				results[addr] = resp
			}
			return nil
		})
	}
	_ = g.Wait()

	if queryPretty {
		printQueryTable(targets, results, errs)
		return nil
	}
	return printQueryJSON(targets, results, errs)
}

func queryOne(ctx context.Context, address string) (json.RawMessage, error) {
	backend := engine.NewHTTPBackend()
	resp, err := backend.Call(ctx, address, queryProviderID, rpc.MethodGetConfig, []byte("{}"))
	if err != nil {
		return nil, err
	}
	var result struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Value   json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("%s", result.Error)
	}
	return result.Value, nil
}

func printQueryJSON(targets []string, results map[string]json.RawMessage, errs map[string]string) error {
	out := make(map[string]interface{}, len(targets))
	for _, addr := range targets {
		if cfg, ok := results[addr]; ok {
			out[addr] = cfg
		} else {
			out[addr] = map[string]string{"error": errs[addr]}
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printQueryTable(targets []string, results map[string]json.RawMessage, errs map[string]string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Address", "Providers", "Clients", "Status"})
	for _, addr := range targets {
		cfg, ok := results[addr]
		if !ok {
			t.AppendRow(table.Row{addr, "-", "-", "error: " + errs[addr]})
			continue
		}
		var doc struct {
			Providers []json.RawMessage `json:"providers"`
			Clients   []json.RawMessage `json:"clients"`
		}
		_ = json.Unmarshal(cfg, &doc)
		t.AppendRow(table.Row{addr, len(doc.Providers), len(doc.Clients), "ok"})
	}
	t.Render()
}
