package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kultup/mailbot/internal/domain"
	"github.com/Kultup/mailbot/internal/notify"
)

func TestNotifyText(t *testing.T) {
	var buf bytes.Buffer
	n := NewWithWriter(&buf, "Title:")

	require.NoError(t, n.Notify(context.Background(), domain.NotificationUnit{Text: "Hello World"}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, separator))
	assert.True(t, strings.HasSuffix(out, separator))
	assert.Contains(t, out, "Kind: text\n")
	assert.Contains(t, out, "Title:\nHello World\n")
	assert.NotContains(t, out, "Attachment:")
}

func TestNotifyAttachment(t *testing.T) {
	var buf bytes.Buffer
	n := NewWithWriter(&buf, "")

	unit := domain.NotificationUnit{
		Text:       "Notice",
		Attachment: &domain.Attachment{Kind: domain.AttachmentFile, Path: "attachments/invoice.pdf", Filename: "invoice.pdf"},
	}
	require.NoError(t, n.Notify(context.Background(), unit))

	out := buf.String()
	assert.Contains(t, out, "Kind: file\n")
	assert.Contains(t, out, "Attachment: invoice.pdf (attachments/invoice.pdf)\n")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestNotifyWriteError(t *testing.T) {
	n := NewWithWriter(failingWriter{}, "")

	err := n.Notify(context.Background(), domain.NotificationUnit{Text: "x"})

	var dispatchErr *notify.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "stdout", dispatchErr.Notifier)
}

func TestName(t *testing.T) {
	assert.Equal(t, "stdout", New("").Name())
}
