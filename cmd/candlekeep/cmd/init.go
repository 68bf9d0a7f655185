package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/candlekeep/candlekeep/configs"
	"github.com/candlekeep/candlekeep/internal/kberr"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter candlekeep.yaml in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "candlekeep.yaml"
			if cfgPath != "" {
				path = cfgPath
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return kberr.Newf(kberr.CodeInvalidInput, "%s already exists", path).
						WithSuggestion("use --force to overwrite it")
				}
			}

			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return kberr.Wrap(kberr.CodeInternal, err).WithDetail("path", path)
			}

			cmd.Printf("wrote %s\n", path)
			cmd.Println("edit it for your environment, then run 'candlekeep doctor'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
