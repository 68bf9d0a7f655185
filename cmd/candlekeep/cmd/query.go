package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/internal/mcptool"
	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/search"
	"github.com/candlekeep/candlekeep/internal/store"
)

func newQueryCmd() *cobra.Command {
	var (
		k           int
		mode        string
		tenant      string
		sourceGroup string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the knowledge base",
		Long: `Run one retrieval query and print the top matches. Hybrid mode fuses
vector similarity with full-text ranking; semantic and lexical run a
single branch.`,
		Example: `  candlekeep query "how do we rotate credentials"
  candlekeep query --mode lexical --k 10 "error budget"
  candlekeep query --json "quarterly goals" | jq .`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), strings.Join(args, " "),
				k, mode, tenant, sourceGroup, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (default: config search.default_match_count)")
	cmd.Flags().StringVar(&mode, "mode", string(search.ModeHybrid), "Retrieval mode: semantic, lexical, or hybrid")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Corpus partition to search")
	cmd.Flags().StringVar(&sourceGroup, "source-group", "", "Source group to search")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runQuery(parent context.Context, text string, k int,
	mode, tenant, sourceGroup string, jsonOutput bool) error {

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openEmbedder(); err != nil {
		return err
	}
	if err := a.validate(ctx, a.coreCaps(), preflight.Strict); err != nil {
		return err
	}

	engine := search.NewEngine(a.store, a.embedder, a.cfg.Search, a.logger)

	qctx, cancel := context.WithTimeout(ctx, a.cfg.Search.QueryTimeout)
	defer cancel()

	results, info, err := engine.Query(qctx, search.QueryOptions{
		Text: text,
		K:    k,
		Mode: search.Mode(mode),
		Filter: store.Filter{
			Tenant:      tenant,
			SourceGroup: sourceGroup,
		},
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"results": results, "info": info})
	}

	if info.Degraded {
		fmt.Fprintln(os.Stderr, "warning: "+info.Warning)
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	fmt.Println(mcptool.Render(results))
	return nil
}
