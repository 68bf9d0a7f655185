package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/internal/fetch"
	"github.com/candlekeep/candlekeep/internal/preflight"
	"github.com/candlekeep/candlekeep/internal/store"
)

func newIngestCmd() *cobra.Command {
	var (
		tenant      string
		sourceGroup string
		driveFile   bool
		deep        bool
		maxDepth    int
	)

	cmd := &cobra.Command{
		Use:   "ingest <path-or-url>",
		Short: "Ingest a file or URL directly, bypassing the queue",
		Long: `Run one source through the ingestion pipeline in-process. URLs are
fetched from the web, everything else is read from the filesystem.
Use --drive to treat the argument as a Google Drive file ID.

Schema checks are relaxed here; connectivity to the store and the
embedder is still required.`,
		Example: `  # Ingest a local markdown file
  candlekeep ingest ./notes/meeting.md

  # Crawl a site two levels deep
  candlekeep ingest https://example.com/docs --deep --max-depth 2

  # Ingest a Drive file
  candlekeep ingest 1aBcD_eFgH --drive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], tenant, sourceGroup, driveFile, deep, maxDepth)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Corpus partition to ingest into")
	cmd.Flags().StringVar(&sourceGroup, "source-group", "", "Source group label")
	cmd.Flags().BoolVar(&driveFile, "drive", false, "Treat the argument as a Google Drive file ID")
	cmd.Flags().BoolVar(&deep, "deep", false, "Crawl same-origin links (URLs only)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Crawl depth limit (default: config ingest.max_crawl_depth)")

	return cmd
}

func runIngest(parent context.Context, target, tenant, sourceGroup string,
	driveFile, deep bool, maxDepth int) error {

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

	caps := append(a.coreCaps(), a.ingestionCaps()...)
	if err := a.validate(ctx, caps, preflight.Lenient); err != nil {
		return err
	}

	desc := a.describeTarget(target, tenant, sourceGroup, driveFile, deep, maxDepth)
	report, err := a.pipeline.Ingest(ctx, desc)
	if err != nil {
		return err
	}

	printReport(os.Stdout, report)
	if report.AllFailed() {
		return fmt.Errorf("ingestion failed: %s", report.Warnings[0].Message)
	}
	return nil
}

// describeTarget classifies the command argument into a source descriptor.
func (a *app) describeTarget(target, tenant, sourceGroup string,
	driveFile, deep bool, maxDepth int) fetch.SourceDescriptor {

	desc := fetch.SourceDescriptor{
		Locator:     target,
		Tenant:      tenant,
		SourceGroup: sourceGroup,
	}

	switch {
	case driveFile:
		desc.Kind = store.SourceKindDriveFile
	case strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"):
		desc.Kind = store.SourceKindWebURL
		if deep {
			depth := maxDepth
			if depth <= 0 || depth > a.cfg.Ingest.MaxCrawlDepth {
				depth = a.cfg.Ingest.MaxCrawlDepth
			}
			desc.CrawlDepth = depth
		}
	default:
		desc.Kind = store.SourceKindLocalFile
		if abs, err := filepath.Abs(target); err == nil {
			desc.Locator = abs
		}
	}
	return desc
}
