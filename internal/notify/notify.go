// Package notify defines the contract for delivering one notification unit
// to the configured chat destination.
package notify

import (
	"context"
	"fmt"

	"github.com/Kultup/mailbot/internal/domain"
)

// Notifier delivers notification units. Implementations do not retry: any
// error is final for that unit and is returned as a *DispatchError.
type Notifier interface {
	Notify(ctx context.Context, unit domain.NotificationUnit) error

	// Name returns the human-readable name of this notifier.
	Name() string
}

type DispatchError struct {
	Notifier string
	Kind     string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: send %s: %v", e.Notifier, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Compose joins the title line and the body the way every notifier renders
// a unit.
func Compose(title, body string) string {
	if title == "" {
		return body
	}
	return title + "\n" + body
}
