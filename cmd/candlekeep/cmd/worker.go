package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/queue"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run an ingestion worker",
		Long: `Claim ingestion jobs from the queue and run them through the pipeline,
one at a time. Scale by starting more worker processes. The worker
validates its dependencies before claiming anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(parent context.Context) error {
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

	caps := append(a.coreCaps(), preflight.CapQueue)
	caps = append(caps, a.ingestionCaps()...)
	gate := a.checker().Gate(caps, preflight.Strict)

	w := queue.NewWorker(a.queue, a.pipeline, gate, a.cfg.Queue.JobTimeout, a.logger)
	return w.Run(ctx)
}
