// Package mailbox manages one authenticated IMAP session: sender-filtered
// search for unseen mail and retrieval of raw message bytes.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/Kultup/mailbot/internal/domain"
)

// Client is the subset of the go-imap client a Session drives.
type Client interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Close() error
	Logout() error
}

// Dialer opens an encrypted connection to addr.
type Dialer func(ctx context.Context, addr string, tlsConfig *tls.Config, timeout time.Duration) (Client, error)

// DialTLS connects with implicit TLS. timeout bounds the dial and every
// subsequent command.
func DialTLS(ctx context.Context, addr string, tlsConfig *tls.Config, timeout time.Duration) (Client, error) {
	dialer := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	c, err := imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	c.Timeout = timeout
	return c, nil
}

type options struct {
	dialer             Dialer
	mailbox            string
	timeout            time.Duration
	insecureSkipVerify bool
}

type Option func(*options)

func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithMailbox(name string) Option {
	return func(o *options) { o.mailbox = name }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithInsecureSkipVerify(skip bool) Option {
	return func(o *options) { o.insecureSkipVerify = skip }
}

// Session is an open, authenticated connection with a selected mailbox.
type Session struct {
	client Client
	closed bool
}

// Open dials the server, logs in and selects the mailbox (INBOX unless
// overridden). It returns *ConnectionError or *AuthError on failure.
func Open(ctx context.Context, creds domain.MailboxCredentials, opts ...Option) (*Session, error) {
	o := options{
		dialer:  DialTLS,
		mailbox: "INBOX",
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	addr := net.JoinHostPort(creds.Host, fmt.Sprint(creds.Port))
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "dial", Err: err}
	}

	tlsConfig := &tls.Config{
		ServerName:         creds.Host,
		InsecureSkipVerify: o.insecureSkipVerify, //nolint:gosec // opt-in for self-signed test servers
	}
	c, err := o.dialer(ctx, addr, tlsConfig, o.timeout)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "dial", Err: err}
	}

	if err := c.Login(creds.Username, creds.Secret); err != nil {
		_ = c.Logout()
		return nil, &AuthError{User: creds.Username, Err: err}
	}

	if _, err := c.Select(o.mailbox, false); err != nil {
		_ = c.Logout()
		return nil, &ConnectionError{Addr: addr, Op: "select " + o.mailbox, Err: err}
	}

	return &Session{client: c}, nil
}

// With opens a session, runs fn and closes the session on every exit path,
// including a panic inside fn.
func With(ctx context.Context, creds domain.MailboxCredentials, fn func(*Session) error, opts ...Option) error {
	return Scoped(ctx, func(ctx context.Context) (*Session, error) {
		return Open(ctx, creds, opts...)
	}, fn)
}

// Scoped runs fn against a resource obtained from open and closes it
// afterwards, even when fn panics. A close error is returned only when fn
// succeeded.
func Scoped[S io.Closer](ctx context.Context, open func(context.Context) (S, error), fn func(S) error) (err error) {
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(s)
}

// SearchUnseen runs one UNSEEN FROM search per sender and returns the union
// of matching UIDs in first-seen order. A failed search for one sender is
// reported in a *SearchError while the other results are still returned.
func (s *Session) SearchUnseen(senders []string) ([]domain.MessageID, error) {
	seen := make(map[uint32]struct{})
	var ids []domain.MessageID
	var searchErr SearchError

	for _, sender := range senders {
		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.SeenFlag}
		criteria.Header.Add("From", sender)

		uids, err := s.client.UidSearch(criteria)
		if err != nil {
			searchErr.add(sender, err)
			continue
		}
		for _, uid := range uids {
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			ids = append(ids, domain.MessageID(uid))
		}
	}

	if len(searchErr.Failed) > 0 {
		return ids, &searchErr
	}
	return ids, nil
}

// Fetch retrieves the full content of one message. Fetching BODY[] without
// PEEK sets \Seen on the server.
func (s *Session) Fetch(id domain.MessageID) (domain.RawMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(id))

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()

	var raw []byte
	var readErr error
	found := false
	for msg := range ch {
		if msg == nil || found {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		found = true
		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, &FetchError{ID: id, Err: err}
	}
	if readErr != nil {
		return nil, &FetchError{ID: id, Err: readErr}
	}
	if !found {
		return nil, &FetchError{ID: id, Err: ErrNotFound}
	}
	return raw, nil
}

// Close closes the mailbox and logs out. Calling it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	closeErr := s.client.Close()
	logoutErr := s.client.Logout()
	return errors.Join(closeErr, logoutErr)
}
