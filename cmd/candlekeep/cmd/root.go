// Package cmd provides the CLI commands for Candlekeep.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/pkg/version"
)

var (
	cfgPath   string
	debugMode bool
)

// NewRootCmd creates the root command for the candlekeep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candlekeep",
		Short: "Personal knowledge base with hybrid retrieval",
		Long: `Candlekeep ingests documents from the filesystem, the web, Google Drive,
and audio transcripts into a Postgres knowledge base, and answers queries
with hybrid retrieval (vector similarity fused with full-text ranking).

Run 'candlekeep serve' for the HTTP API, 'candlekeep worker' to process
queued ingestion jobs, and 'candlekeep mcp' to expose search to agents.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("candlekeep version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Path to the config file (default: ./candlekeep.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"Enable debug logging")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newReadingsCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI. Errors are printed once here; the caller only
// decides the exit code.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+renderError(err))
		return err
	}
	return nil
}
