package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitsWithoutAttachments(t *testing.T) {
	units := ParsedMessage{Body: "Hello"}.Units()
	require.Len(t, units, 1)
	assert.Equal(t, "Hello", units[0].Text)
	assert.Nil(t, units[0].Attachment)
	assert.Equal(t, "text", units[0].Kind())
}

func TestUnitsOnePerAttachment(t *testing.T) {
	msg := ParsedMessage{
		Body: "Order #42",
		Attachments: []Attachment{
			{Kind: AttachmentFile, Path: "a/invoice.pdf", Filename: "invoice.pdf"},
			{Kind: AttachmentImage, Path: "a/photo.jpg", Filename: "photo.jpg"},
		},
	}

	units := msg.Units()
	require.Len(t, units, 2)
	for i, u := range units {
		assert.Equal(t, "Order #42", u.Text)
		require.NotNil(t, u.Attachment)
		assert.Equal(t, msg.Attachments[i], *u.Attachment)
	}
	assert.Equal(t, "file", units[0].Kind())
	assert.Equal(t, "image", units[1].Kind())

	units[0].Attachment.Filename = "changed"
	assert.Equal(t, "invoice.pdf", msg.Attachments[0].Filename)
}
