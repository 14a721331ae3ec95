// Package stdout implements a Notifier that prints notification units to
// standard output. It backs dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Kultup/mailbot/internal/domain"
	"github.com/Kultup/mailbot/internal/notify"
)

const separator = "========================================\n"

type Notifier struct {
	writer io.Writer
	title  string
}

// New creates a Notifier that writes to os.Stdout.
func New(title string) *Notifier {
	return NewWithWriter(os.Stdout, title)
}

// NewWithWriter creates a Notifier that writes to w.
func NewWithWriter(w io.Writer, title string) *Notifier {
	return &Notifier{writer: w, title: title}
}

func (n *Notifier) Name() string {
	return "stdout"
}

func (n *Notifier) Notify(ctx context.Context, unit domain.NotificationUnit) error {
	if err := ctx.Err(); err != nil {
		return &notify.DispatchError{Notifier: n.Name(), Kind: unit.Kind(), Err: err}
	}

	var b strings.Builder
	b.WriteString(separator)
	fmt.Fprintf(&b, "Kind: %s\n", unit.Kind())
	if att := unit.Attachment; att != nil {
		fmt.Fprintf(&b, "Attachment: %s (%s)\n", att.Filename, att.Path)
	}
	b.WriteString(notify.Compose(n.title, unit.Text))
	b.WriteString("\n")
	b.WriteString(separator)

	if _, err := io.WriteString(n.writer, b.String()); err != nil {
		return &notify.DispatchError{Notifier: n.Name(), Kind: unit.Kind(), Err: err}
	}
	return nil
}
