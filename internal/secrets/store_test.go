package secrets

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) keyring.Keyring {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := openKeyringFunc
	openKeyringFunc = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyringFunc = prev })
	return ring
}

func TestIMAPPasswordRoundTrip(t *testing.T) {
	ring := useArrayKeyring(t)

	require.NoError(t, SetIMAPPassword(" Relay@Example.com ", "app-password"))

	item, err := ring.Get("imap:password:relay@example.com")
	require.NoError(t, err)
	assert.Equal(t, ServiceName, item.Label)

	got, err := GetIMAPPassword("relay@example.com")
	require.NoError(t, err)
	assert.Equal(t, "app-password", got)
}

func TestTelegramTokenRoundTrip(t *testing.T) {
	useArrayKeyring(t)

	_, err := GetTelegramToken()
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, SetTelegramToken("123:abc\n"))
	got, err := GetTelegramToken()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", got)
}

func TestSecretValidation(t *testing.T) {
	useArrayKeyring(t)

	assert.ErrorIs(t, SetSecret("  ", []byte("x")), errMissingSecretKey)
	assert.ErrorIs(t, SetSecret("k", nil), errEmptySecret)
	assert.ErrorIs(t, SetIMAPPassword("", "x"), errMissingUsername)
	assert.ErrorIs(t, SetIMAPPassword("user", ""), errEmptySecret)

	_, err := GetIMAPPassword(" ")
	assert.ErrorIs(t, err, errMissingUsername)
	_, err = GetSecret("")
	assert.ErrorIs(t, err, errMissingSecretKey)
}

func TestOpenFailureIsReturned(t *testing.T) {
	boom := errors.New("keyring locked")
	prev := openKeyringFunc
	openKeyringFunc = func() (keyring.Keyring, error) { return nil, boom }
	t.Cleanup(func() { openKeyringFunc = prev })

	_, err := GetTelegramToken()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, SetTelegramToken("t"), boom)
}

func TestAllowedBackends(t *testing.T) {
	b, err := allowedBackends("auto")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = allowedBackends("file")
	require.NoError(t, err)
	assert.Equal(t, []keyring.BackendType{keyring.FileBackend}, b)

	_, err = allowedBackends("vault")
	assert.ErrorIs(t, err, errInvalidKeyringBackend)
}

func TestFilePasswordFunc(t *testing.T) {
	pw, err := filePasswordFunc("", true, false)("prompt")
	require.NoError(t, err)
	assert.Equal(t, "", pw)

	_, err = filePasswordFunc("", false, false)("prompt")
	assert.ErrorIs(t, err, errNoTTY)
}
