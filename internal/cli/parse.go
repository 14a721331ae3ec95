package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/domain"
	"github.com/Kultup/mailbot/internal/extract"
	"github.com/Kultup/mailbot/internal/logger"
)

func newParseCmd(opts *rootOptions) *cobra.Command {
	var (
		format     string
		stagingDir string
	)

	cmd := &cobra.Command{
		Use:   "parse <file.eml>",
		Short: "Decompose a saved message and print the notifications it would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown format %q (expected json or yaml)", format)
			}

			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("staging-dir") {
				cfg.StagingDir = stagingDir
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			log := logger.New(
				logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
				logger.WithOutput(cmd.ErrOrStderr()),
			)
			parsed := extract.New(cfg.StagingDir, cfg.BoilerplateMarker, log).Decompose(domain.RawMessage(raw))

			return printUnits(cmd, format, parsed.Units())
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVar(&stagingDir, "staging-dir", "", "Directory for extracted attachments (default STAGING_DIR)")

	return cmd
}

func printUnits(cmd *cobra.Command, format string, units []domain.NotificationUnit) error {
	if format == "yaml" {
		out, err := yaml.Marshal(units)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(units)
}
