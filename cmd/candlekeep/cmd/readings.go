package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/readings"
)

func newReadingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readings",
		Short: "Save and browse reading-list entries",
		Long: `A reading is a URL saved into the knowledge base with a summary and
related links. Saving ingests the page synchronously, so the content is
searchable immediately.`,
	}
	cmd.AddCommand(newReadingsSaveCmd())
	cmd.AddCommand(newReadingsListCmd())
	cmd.AddCommand(newReadingsGetCmd())
	return cmd
}

func newReadingsSaveCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "save <url>",
		Short: "Save a URL as a reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReadingsSave(cmd.Context(), args[0], tenant)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Corpus partition to save into")
	return cmd
}

func runReadingsSave(parent context.Context, rawURL, tenant string) error {
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
	if err := a.buildPipeline(ctx); err != nil {
		return err
	}

	caps := append(a.coreCaps(), a.readingsCaps()...)
	if err := a.validate(ctx, caps, preflight.Strict); err != nil {
		return err
	}

	svc := readings.New(a.store, a.pipeline, a.cfg.Readings, a.logger)
	result, err := svc.Save(ctx, rawURL, tenant)
	if err != nil {
		return err
	}

	printReading(result.Reading)
	for _, skipped := range result.Degraded {
		fmt.Println("skipped: " + skipped)
	}
	return nil
}

func newReadingsListCmd() *cobra.Command {
	var (
		tenant string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved readings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReadingsList(cmd.Context(), tenant, limit)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Corpus partition to list")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum readings to show")
	return cmd
}

func runReadingsList(parent context.Context, tenant string, limit int) error {
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

	svc := readings.New(a.store, nil, a.cfg.Readings, a.logger)
	list, err := svc.List(ctx, tenant, limit)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("no readings saved")
		return nil
	}
	for _, r := range list {
		fmt.Printf("%s  %-10s  %s\n      %s\n", r.CreatedAt, r.URLKind, r.Title, r.URL)
	}
	return nil
}

func newReadingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReadingsGet(cmd.Context(), args[0])
		},
	}
}

func runReadingsGet(parent context.Context, id string) error {
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

	svc := readings.New(a.store, nil, a.cfg.Readings, a.logger)
	reading, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}

	printReading(reading)
	return nil
}

func printReading(r *readings.Reading) {
	fmt.Println(r.Title)
	fmt.Println(r.URL)
	fmt.Printf("id: %s  kind: %s  saved: %s\n", r.ID, r.URLKind, r.CreatedAt)
	if r.Summary != "" {
		fmt.Println("\n" + r.Summary)
	}
	if len(r.KeyPoints) > 0 {
		fmt.Println()
		for _, p := range r.KeyPoints {
			fmt.Println("  - " + p)
		}
	}
	if len(r.RelatedLinks) > 0 {
		fmt.Println("\nrelated:")
		for _, link := range r.RelatedLinks {
			fmt.Printf("  %s\n    %s\n", link.Title, link.URL)
		}
	}
}
