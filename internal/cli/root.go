// Package cli implements the relay and api command trees.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kultup/mailbot/internal/config"
)

type rootOptions struct {
	envFile string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "relay forwards allow-listed IMAP mail to Telegram",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", config.DefaultEnvFile(), "dotenv file to read configuration from")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newOnceCmd(opts))
	cmd.AddCommand(newParseCmd(opts))
	cmd.AddCommand(newAuthCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
