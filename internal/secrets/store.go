// Package secrets keeps the IMAP password and the bot token in the OS
// keyring so they need not live in the .env file.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	ServiceName = "mailbot"

	keyringPasswordEnv = "MAILBOT_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "MAILBOT_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential

	telegramTokenKey = "telegram:token"
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingSecretKey      = errors.New("missing secret key")
	errMissingUsername       = errors.New("missing username")
	errEmptySecret           = errors.New("empty secret")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	openKeyringFunc          = openKeyring
)

func allowedBackends(value string) ([]keyring.BackendType, error) {
	switch value {
	case "", "auto":
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected auto, keychain, secret-service or file)", errInvalidKeyringBackend, value)
	}
}

func filePasswordFunc(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}
	if isTTY {
		return keyring.TerminalPrompt
	}
	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func keyringDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, ServiceName, "keyring")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func openKeyring() (keyring.Keyring, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv(keyringBackendEnv)))
	backends, err := allowedBackends(backend)
	if err != nil {
		return nil, err
	}

	// Headless linux without a session bus cannot reach the secret service.
	if runtime.GOOS == "linux" && backends == nil && os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	dir, err := keyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      ServiceName,
		AllowedBackends:  backends,
		FileDir:          dir,
		FilePasswordFunc: filePasswordFunc(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd()))),
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

func SetSecret(key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errMissingSecretKey
	}
	if len(value) == 0 {
		return errEmptySecret
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}

	if err := ring.Set(keyring.Item{Key: key, Data: value, Label: ServiceName}); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

// GetSecret returns ErrSecretNotFound when the key was never stored.
func GetSecret(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errMissingSecretKey
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return nil, err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return item.Data, nil
}

func SetIMAPPassword(username, password string) error {
	user := normalize(username)
	if user == "" {
		return errMissingUsername
	}
	return SetSecret(imapPasswordKey(user), []byte(password))
}

func GetIMAPPassword(username string) (string, error) {
	user := normalize(username)
	if user == "" {
		return "", errMissingUsername
	}
	data, err := GetSecret(imapPasswordKey(user))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func SetTelegramToken(token string) error {
	return SetSecret(telegramTokenKey, []byte(strings.TrimSpace(token)))
}

func GetTelegramToken() (string, error) {
	data, err := GetSecret(telegramTokenKey)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func imapPasswordKey(username string) string {
	return fmt.Sprintf("imap:password:%s", username)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
