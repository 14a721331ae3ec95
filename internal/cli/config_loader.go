package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/secrets"
)

var (
	getIMAPPassword  = secrets.GetIMAPPassword
	getTelegramToken = secrets.GetTelegramToken
)

// loadConfig reads the configuration and fills missing secrets from the
// keyring.
func loadConfig(envFile string) (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	if cfg.IMAPPass == "" && cfg.IMAPUser != "" {
		password, err := getIMAPPassword(cfg.IMAPUser)
		switch {
		case err == nil:
			cfg.IMAPPass = password
		case !errors.Is(err, secrets.ErrSecretNotFound):
			return nil, fmt.Errorf("IMAP_PASSWORD is not set and the keyring lookup failed: %w", err)
		}
	}

	if cfg.TelegramToken == "" && cfg.Notifier == config.NotifierTelegram {
		token, err := getTelegramToken()
		switch {
		case err == nil:
			cfg.TelegramToken = token
		case !errors.Is(err, secrets.ErrSecretNotFound):
			return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set and the keyring lookup failed: %w", err)
		}
	}

	return cfg, nil
}

// loadValidConfig is loadConfig followed by config.Validate.
func loadValidConfig(envFile string) (*config.Config, error) {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger logs to out and, when LOG_FILE is set, appends to that file as
// well. The returned func closes the file.
func newLogger(cfg *config.Config, out io.Writer) (logger.Logger, func() error, error) {
	closeFn := func() error { return nil }

	if cfg.LogFile != "" {
		f, err := logger.OpenFile(cfg.LogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(out, f)
		closeFn = f.Close
	}

	log := logger.New(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithFormat(logger.Format(cfg.LogFormat)),
		logger.WithOutput(out),
	)
	return log, closeFn, nil
}
