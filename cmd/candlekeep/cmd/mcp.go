package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/internal/mcptool"
	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/search"
	"github.com/candlekeep/candlekeep/internal/store"
	"github.com/candlekeep/candlekeep/pkg/version"
)

func newMCPCmd() *cobra.Command {
	var (
		tenant      string
		sourceGroup string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the search tool to agents over MCP stdio",
		Long: `Expose search_knowledge_base over the Model Context Protocol on
stdin/stdout. Logs go to stderr and the log file only, never stdout.
The tenant and source-group flags pin every tool call to one corpus
partition.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), tenant, sourceGroup)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Corpus partition served to the agent")
	cmd.Flags().StringVar(&sourceGroup, "source-group", "", "Source group served to the agent")
	return cmd
}

func runMCP(parent context.Context, tenant, sourceGroup string) error {
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
	srv := mcptool.New(engine, store.Filter{Tenant: tenant, SourceGroup: sourceGroup},
		version.Version, a.logger)
	return srv.Run(ctx)
}
