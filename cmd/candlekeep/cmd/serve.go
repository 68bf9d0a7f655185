package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/readings"
	"github.com/candlekeep/candlekeep/internal/search"
	"github.com/candlekeep/candlekeep/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the HTTP server: ingestion job submission, job status, readings,
and query. All required capabilities are validated before the listener
starts; a missing store, embedder, or queue aborts startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
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
	if err := a.openQueue(); err != nil {
		return err
	}
	if err := a.buildPipeline(ctx); err != nil {
		return err
	}

	caps := append(a.coreCaps(), preflight.CapQueue, preflight.CapQueueWorkers)
	caps = append(caps, a.ingestionCaps()...)
	caps = append(caps, a.readingsCaps()...)
	if err := a.validate(ctx, caps, preflight.Strict); err != nil {
		return err
	}

	engine := search.NewEngine(a.store, a.embedder, a.cfg.Search, a.logger)
	readingsSvc := readings.New(a.store, a.pipeline, a.cfg.Readings, a.logger)

	srv := server.New(a.queue, engine, readingsSvc, *a.cfg, a.logger)
	return srv.ListenAndServe(ctx)
}
