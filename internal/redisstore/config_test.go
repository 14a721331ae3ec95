package redisstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenders(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	none, err := s.GetSenders(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.AddSender(ctx, " Forms@Example.com "))
	require.NoError(t, s.AddSender(ctx, "alerts@example.com"))
	require.NoError(t, s.AddSender(ctx, "forms@example.com"))

	senders, err := s.GetSenders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts@example.com", "forms@example.com"}, senders)

	require.NoError(t, s.RemoveSender(ctx, "FORMS@example.com"))
	assert.ErrorIs(t, s.RemoveSender(ctx, "forms@example.com"), ErrNotFound)

	senders, err = s.GetSenders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts@example.com"}, senders)
}
