package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/secrets"
)

var (
	isTerminal       = term.IsTerminal
	readPassword     = term.ReadPassword
	setIMAPPassword  = secrets.SetIMAPPassword
	setTelegramToken = secrets.SetTelegramToken
)

func newAuthCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store secrets in the OS keyring",
	}
	cmd.AddCommand(newSetIMAPPasswordCmd(opts))
	cmd.AddCommand(newSetTelegramTokenCmd())
	return cmd
}

func newSetIMAPPasswordCmd(opts *rootOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "set-imap-password",
		Short: "Store the IMAP password for IMAP_USER",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				cfg, err := config.Load(opts.envFile)
				if err != nil {
					return err
				}
				username = cfg.IMAPUser
			}
			if username == "" {
				return errors.New("no IMAP user: set IMAP_USER or pass --user")
			}

			password, err := promptSecret(cmd, fmt.Sprintf("IMAP password for %s: ", username))
			if err != nil {
				return err
			}
			if err := setIMAPPassword(username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "IMAP password for %s stored in keyring\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "IMAP user (default IMAP_USER)")

	return cmd
}

func newSetTelegramTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-telegram-token",
		Short: "Store the Telegram bot token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := promptSecret(cmd, "Telegram bot token: ")
			if err != nil {
				return err
			}
			if err := setTelegramToken(token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Telegram bot token stored in keyring")
			return nil
		},
	}
}

// promptSecret reads a secret without echo from a terminal, or a single
// line from piped input.
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && isTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := readPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", errors.New("no secret given")
	}
	return secret, nil
}
