package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/extract"
	"github.com/Kultup/mailbot/internal/imapworker"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/mailbox"
	"github.com/Kultup/mailbot/internal/notify"
	"github.com/Kultup/mailbot/internal/notify/stdout"
	"github.com/Kultup/mailbot/internal/notify/telegram"
	"github.com/Kultup/mailbot/internal/redisstore"
)

const lockFileName = ".relay.lock"

var errAlreadyRunning = errors.New("another relay is already running")

// relay bundles a configured worker with the resources it owns.
type relay struct {
	cfg     *config.Config
	log     logger.Logger
	worker  *imapworker.Worker
	closers []func() error
}

func (r *relay) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newRelay(envFile string, out io.Writer) (*relay, error) {
	cfg, err := loadValidConfig(envFile)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := newLogger(cfg, out)
	if err != nil {
		return nil, err
	}
	r := &relay{cfg: cfg, log: log, closers: []func() error{closeLog}}

	notifier, err := newNotifier(cfg)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	journal := newJournal(cfg, log)
	if store, ok := journal.(*redisstore.Store); ok {
		r.closers = append(r.closers, store.Close)
	}

	mbox := imapworker.IMAPMailbox(cfg.Credentials(),
		mailbox.WithMailbox(cfg.IMAPMailbox),
		mailbox.WithTimeout(cfg.Timeout()),
		mailbox.WithInsecureSkipVerify(cfg.IMAPInsecureSkipVerify),
	)
	decomposer := extract.New(cfg.StagingDir, cfg.BoilerplateMarker, log)

	r.worker = imapworker.New(cfg, mbox, decomposer, notifier, journal, log)
	return r, nil
}

func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierStdout:
		return stdout.New(cfg.NotifyTitle), nil
	case config.NotifierTelegram:
		n, err := telegram.New(telegram.Config{
			Token:   cfg.TelegramToken,
			ChatID:  cfg.TelegramChatID,
			Title:   cfg.NotifyTitle,
			Timeout: cfg.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

// newJournal connects to redis when REDIS_URL is set. The relay keeps
// working without a journal if redis is unreachable.
func newJournal(cfg *config.Config, log logger.Logger) imapworker.Journal {
	if cfg.RedisURL == "" {
		return imapworker.NopJournal{}
	}
	store, err := redisstore.New(cfg.RedisURL, cfg.TTLSeconds)
	if err != nil {
		log.Warn("delivery journal disabled", "error", err)
		return imapworker.NopJournal{}
	}
	log.Info("delivery journal enabled")
	return store
}

// acquireLock takes the single-instance lock inside the staging directory.
func acquireLock(stagingDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	lock := flock.New(filepath.Join(stagingDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s held)", errAlreadyRunning, lock.Path())
	}
	return lock, nil
}
