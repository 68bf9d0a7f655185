package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/queue"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check every configured capability and report",
		Long: `Probe every capability the current configuration implies: document
store connectivity and schema, embedding provider, job queue and live
workers, and the optional ingestion and enrichment services. Doctor
reports everything it finds and exits non-zero only when a required
capability is down.`,
		Example: `  candlekeep doctor
  candlekeep doctor --json | jq '.checks[] | select(.status != "pass")'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(parent context.Context, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Open everything best-effort. Doctor's job is to report problems,
	// not to fail on the first one.
	if err := a.openStore(ctx); err != nil {
		a.logger.Warn("store unavailable", slog.String("error", err.Error()))
	}
	if err := a.openEmbedder(); err != nil {
		a.logger.Warn("embedder unavailable", slog.String("error", err.Error()))
	}
	if err := a.openQueue(); err != nil {
		a.logger.Warn("queue unavailable", slog.String("error", err.Error()))
	}
	if err := a.buildPipeline(ctx); err != nil {
		a.logger.Warn("pipeline unavailable", slog.String("error", err.Error()))
	}

	caps := append(a.coreCaps(), preflight.CapQueue, preflight.CapQueueWorkers)
	caps = append(caps, a.ingestionCaps()...)
	caps = append(caps, a.readingsCaps()...)

	results := a.checker().Run(ctx, caps, preflight.Strict)

	var stats *queue.Stats
	if a.queue != nil {
		if s, err := a.queue.Stats(ctx); err == nil {
			stats = s
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"checks": results, "queue": stats}); err != nil {
			return err
		}
	} else {
		printChecks(results)
		if stats != nil {
			fmt.Printf("\nqueue depth: %d pending, %d processing\n", stats.Pending, stats.Processing)
		}
	}

	for _, r := range results {
		if r.IsCritical() {
			return fmt.Errorf("%d capability check(s) failed", countCritical(results))
		}
	}
	return nil
}

func printChecks(results []preflight.CheckResult) {
	for _, r := range results {
		marker := "ok  "
		switch r.Status {
		case preflight.StatusWarn:
			marker = "warn"
		case preflight.StatusFail:
			marker = "FAIL"
		}
		fmt.Printf("[%s] %-26s %s\n", marker, r.Name, r.Message)
		if r.Details != "" && r.Status != preflight.StatusPass {
			fmt.Printf("       %s\n", r.Details)
		}
	}
}

func countCritical(results []preflight.CheckResult) int {
	n := 0
	for _, r := range results {
		if r.IsCritical() {
			n++
		}
	}
	return n
}
