// Package imapworker runs the poll loop: every cycle opens the mailbox,
// relays unseen mail from allow-listed senders and closes the mailbox.
package imapworker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/domain"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/mailbox"
	"github.com/Kultup/mailbot/internal/notify"
)

// Session is an open mailbox. *mailbox.Session implements it.
type Session interface {
	SearchUnseen(senders []string) ([]domain.MessageID, error)
	Fetch(id domain.MessageID) (domain.RawMessage, error)
	Close() error
}

// Mailbox hands out a session that stays open only for the duration of fn.
type Mailbox interface {
	With(ctx context.Context, fn func(Session) error) error
}

// OpenerFunc turns an open function into a Mailbox.
type OpenerFunc func(ctx context.Context) (Session, error)

func (f OpenerFunc) With(ctx context.Context, fn func(Session) error) error {
	return mailbox.Scoped[Session](ctx, f, fn)
}

type imapMailbox struct {
	creds domain.MailboxCredentials
	opts  []mailbox.Option
}

// IMAPMailbox opens IMAP sessions with the given credentials.
func IMAPMailbox(creds domain.MailboxCredentials, opts ...mailbox.Option) Mailbox {
	return imapMailbox{creds: creds, opts: opts}
}

func (m imapMailbox) With(ctx context.Context, fn func(Session) error) error {
	return mailbox.With(ctx, m.creds, func(s *mailbox.Session) error { return fn(s) }, m.opts...)
}

type Decomposer interface {
	Decompose(raw domain.RawMessage) domain.ParsedMessage
}

// Journal records what the loop did. It is never consulted to decide what
// to deliver.
type Journal interface {
	RecordDelivery(ctx context.Context, d *domain.Delivery) error
	RecordCycle(ctx context.Context, report *domain.CycleReport) error
	GetSenders(ctx context.Context) ([]string, error)
}

// NopJournal is used when no journal is configured.
type NopJournal struct{}

func (NopJournal) RecordDelivery(context.Context, *domain.Delivery) error { return nil }
func (NopJournal) RecordCycle(context.Context, *domain.CycleReport) error { return nil }
func (NopJournal) GetSenders(context.Context) ([]string, error) { return nil, nil }

// PanicError carries a panic recovered at a message or cycle boundary.
type PanicError struct {
	Scope string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Scope, e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

type Worker struct {
	cfg        *config.Config
	mailbox    Mailbox
	decomposer Decomposer
	notifier   notify.Notifier
	journal    Journal
	log        logger.Logger
}

func New(cfg *config.Config, mbox Mailbox, decomposer Decomposer, notifier notify.Notifier, journal Journal, log logger.Logger) *Worker {
	if journal == nil {
		journal = NopJournal{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		cfg:        cfg,
		mailbox:    mbox,
		decomposer: decomposer,
		notifier:   notifier,
		journal:    journal,
		log:        log.With("component", "imapworker"),
	}
}

// Start runs a cycle immediately, then one more every poll interval
// measured from the end of the previous cycle, until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	interval := w.cfg.PollInterval()
	w.log.Info("poll loop started", "interval", interval, "notifier", w.notifier.Name())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("poll loop stopping")
			return
		case <-timer.C:
			w.RunCycle(ctx)
			timer.Reset(interval)
		}
	}
}

// RunCycle performs one mailbox pass. Failures are logged and counted in
// the report; none of them escape the cycle.
func (w *Worker) RunCycle(ctx context.Context) (report domain.CycleReport) {
	report = domain.CycleReport{ID: ulid.Make().String(), StartedAt: time.Now()}
	log := w.log.With("cycle", report.ID)

	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Scope: "cycle", Value: r}
			log.Error("cycle aborted", "error", err)
			report.Error = err.Error()
		}
		report.FinishedAt = time.Now()
		if err := w.journal.RecordCycle(context.WithoutCancel(ctx), &report); err != nil {
			log.Warn("record cycle", "error", err)
		}
		log.Info("cycle finished",
			"found", report.Found,
			"fetched", report.Fetched,
			"fetch_failed", report.FetchFailed,
			"sent", report.Sent,
			"send_failed", report.SendFailed,
			"duration", report.FinishedAt.Sub(report.StartedAt),
		)
	}()

	senders := w.senders(ctx)

	err := w.mailbox.With(ctx, func(session Session) error {
		report.Connected = true
		w.drain(ctx, log, session, &report, senders)
		return nil
	})
	switch {
	case err == nil:
	case !report.Connected:
		log.Error("mailbox connection failed", "error", err, "auth", mailbox.IsAuthError(err))
		report.Error = err.Error()
	default:
		log.Warn("close mailbox", "error", err)
	}
	return report
}

// drain relays every unseen message from the allow-listed senders.
func (w *Worker) drain(ctx context.Context, log logger.Logger, session Session, report *domain.CycleReport, senders []string) {
	ids, err := session.SearchUnseen(senders)
	if err != nil {
		log.Error("search unseen", "error", err)
	}
	report.Found = len(ids)
	if len(ids) == 0 {
		log.Info("no new messages from allowed senders")
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			log.Warn("cycle interrupted", "remaining", report.Found-report.Fetched-report.FetchFailed)
			return
		}
		w.processMessage(ctx, log, session, report, id)
	}
}

func (w *Worker) processMessage(ctx context.Context, log logger.Logger, session Session, report *domain.CycleReport, id domain.MessageID) {
	log = log.With("uid", id)
	defer func() {
		if r := recover(); r != nil {
			log.Error("message aborted", "error", &PanicError{Scope: "message", Value: r})
		}
	}()

	raw, err := session.Fetch(id)
	if err != nil {
		report.FetchFailed++
		log.Error("fetch message", "error", err)
		return
	}
	report.Fetched++

	if limit := w.cfg.MaxEmailBytes; limit > 0 && len(raw) > limit {
		log.Warn("message too large, skipped", "bytes", len(raw), "max", limit)
		return
	}

	units := w.decomposer.Decompose(raw).Units()
	staged := make(map[string]*stagedFile)
	for _, unit := range units {
		if unit.Attachment != nil {
			f := staged[unit.Attachment.Path]
			if f == nil {
				f = &stagedFile{}
				staged[unit.Attachment.Path] = f
			}
			f.pending++
		}
	}

	for _, unit := range units {
		sent := w.dispatch(ctx, log, report, id, unit)
		if unit.Attachment == nil {
			continue
		}
		f := staged[unit.Attachment.Path]
		f.pending--
		f.failed = f.failed || !sent
		if f.pending == 0 && !f.failed {
			w.cleanup(log, unit.Attachment.Path)
		}
	}
}

// stagedFile tracks the units of one message that still need a staged path.
// Attachments sharing a file name share the path.
type stagedFile struct {
	pending int
	failed  bool
}

func (w *Worker) dispatch(ctx context.Context, log logger.Logger, report *domain.CycleReport, id domain.MessageID, unit domain.NotificationUnit) bool {
	delivery := &domain.Delivery{
		ID:        ulid.Make().String(),
		CycleID:   report.ID,
		MessageID: id,
		Kind:      unit.Kind(),
	}
	if unit.Attachment != nil {
		delivery.Filename = unit.Attachment.Filename
	}

	err := w.notifier.Notify(logger.WithContext(ctx, log), unit)
	delivery.At = time.Now()
	if err != nil {
		report.SendFailed++
		delivery.Error = err.Error()
		log.Error("notification failed", "kind", delivery.Kind, "filename", delivery.Filename, "error", err)
	} else {
		report.Sent++
		delivery.OK = true
		log.Info("notification sent", "kind", delivery.Kind, "filename", delivery.Filename)
	}

	if err := w.journal.RecordDelivery(context.WithoutCancel(ctx), delivery); err != nil {
		log.Warn("record delivery", "error", err)
	}
	return delivery.OK
}

func (w *Worker) cleanup(log logger.Logger, path string) {
	if !w.cfg.CleanupStaged {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("remove staged file", "path", path, "error", err)
	}
}

// senders merges the configured allow-list with the journal's dynamic one,
// static entries first, without duplicates.
func (w *Worker) senders(ctx context.Context) []string {
	dynamic, err := w.journal.GetSenders(ctx)
	if err != nil {
		w.log.Warn("load dynamic senders", "error", err)
	}

	seen := make(map[string]struct{}, len(w.cfg.AllowedSenders)+len(dynamic))
	merged := make([]string, 0, len(w.cfg.AllowedSenders)+len(dynamic))
	for _, list := range [][]string{w.cfg.AllowedSenders, dynamic} {
		for _, sender := range list {
			key := strings.ToLower(strings.TrimSpace(sender))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, strings.TrimSpace(sender))
		}
	}
	return merged
}
