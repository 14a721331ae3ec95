package mailbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Kultup/mailbot/internal/domain"
)

// ErrNotFound is wrapped by FetchError when the server returned no body.
var ErrNotFound = errors.New("message not found")

// ConnectionError means the session could not be established: dialing,
// the TLS handshake or mailbox selection failed.
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means the server rejected the credentials.
type AuthError struct {
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap login as %s: %v", e.User, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type FetchError struct {
	ID  domain.MessageID
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch message %d: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SearchError lists the senders whose search failed. Results for the other
// senders are still returned alongside it.
type SearchError struct {
	Failed map[string]error
	order  []string
}

func (e *SearchError) add(sender string, err error) {
	if e.Failed == nil {
		e.Failed = make(map[string]error)
	}
	e.Failed[sender] = err
	e.order = append(e.order, sender)
}

func (e *SearchError) Error() string {
	parts := make([]string, 0, len(e.order))
	for _, sender := range e.order {
		parts = append(parts, fmt.Sprintf("%s: %v", sender, e.Failed[sender]))
	}
	return "search unseen: " + strings.Join(parts, "; ")
}

func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
