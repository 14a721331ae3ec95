package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/domain"
	"github.com/Kultup/mailbot/internal/imapworker"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/notify/stdout"
	"github.com/Kultup/mailbot/internal/notify/telegram"
	"github.com/Kultup/mailbot/internal/redisstore"
	"github.com/Kultup/mailbot/internal/secrets"
)

func writeEnvFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func stubKeyring(t *testing.T, password, token string, err error) {
	t.Helper()
	prevPassword, prevToken := getIMAPPassword, getTelegramToken
	getIMAPPassword = func(string) (string, error) { return password, err }
	getTelegramToken = func() (string, error) { return token, err }
	t.Cleanup(func() {
		getIMAPPassword, getTelegramToken = prevPassword, prevToken
	})
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	stubKeyring(t, "", "", secrets.ErrSecretNotFound)
	env := writeEnvFile(t,
		"IMAP_USER=relay@example.com",
		"IMAP_PASSWORD=hunter2",
		"TELEGRAM_BOT_TOKEN=123:abc",
		"TELEGRAM_CHAT_ID=-100200",
	)

	out, err := execute(t, "", "--env", env, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "123:abc")

	var shown map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "relay@example.com", shown["imap_user"])
	assert.Equal(t, "****", shown["imap_password"])
	assert.Equal(t, "****", shown["telegram_bot_token"])
}

func TestConfigCheckReportsMissingValues(t *testing.T) {
	stubKeyring(t, "", "", secrets.ErrSecretNotFound)
	env := writeEnvFile(t, "NOTIFIER=stdout", "IMAP_USER=relay@example.com")

	_, err := execute(t, "", "--env", env, "config", "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAP_PASSWORD is required")

	env = writeEnvFile(t, "NOTIFIER=stdout", "IMAP_USER=relay@example.com", "IMAP_PASSWORD=x")
	out, err := execute(t, "", "--env", env, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
}

func TestLoadConfigKeyringFallback(t *testing.T) {
	env := writeEnvFile(t, "IMAP_USER=relay@example.com", "TELEGRAM_CHAT_ID=42")

	t.Run("found", func(t *testing.T) {
		stubKeyring(t, "from-keyring", "123:from-keyring", nil)
		cfg, err := loadConfig(env)
		require.NoError(t, err)
		assert.Equal(t, "from-keyring", cfg.IMAPPass)
		assert.Equal(t, "123:from-keyring", cfg.TelegramToken)
	})

	t.Run("not found", func(t *testing.T) {
		stubKeyring(t, "", "", secrets.ErrSecretNotFound)
		cfg, err := loadConfig(env)
		require.NoError(t, err)
		assert.Empty(t, cfg.IMAPPass)
		assert.Empty(t, cfg.TelegramToken)
	})

	t.Run("keyring error", func(t *testing.T) {
		stubKeyring(t, "", "", errors.New("keyring locked"))
		_, err := loadConfig(env)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "keyring locked")
	})
}

func TestLoadConfigSkipsTokenLookupForStdout(t *testing.T) {
	env := writeEnvFile(t, "NOTIFIER=stdout", "IMAP_USER=relay@example.com", "IMAP_PASSWORD=x")

	prev := getTelegramToken
	getTelegramToken = func() (string, error) {
		t.Fatal("token lookup not expected")
		return "", nil
	}
	t.Cleanup(func() { getTelegramToken = prev })

	cfg, err := loadConfig(env)
	require.NoError(t, err)
	assert.Empty(t, cfg.TelegramToken)
}

func TestParseCommand(t *testing.T) {
	env := filepath.Join(t.TempDir(), "missing.env")
	eml := filepath.Join(t.TempDir(), "form.eml")
	require.NoError(t, os.WriteFile(eml, []byte(strings.Join([]string{
		"From: forms@example.com",
		"Subject: New submission",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Name: Olena",
		"",
		config.DefaultBoilerplateMarker + " on your site.",
	}, "\r\n")), 0o600))

	out, err := execute(t, "", "--env", env, "parse", "--staging-dir", t.TempDir(), eml)
	require.NoError(t, err)

	var units []domain.NotificationUnit
	require.NoError(t, json.Unmarshal([]byte(out), &units))
	require.Len(t, units, 1)
	assert.Equal(t, "Name: Olena", units[0].Text)
	assert.Nil(t, units[0].Attachment)

	out, err = execute(t, "", "--env", env, "parse", "--format", "yaml", "--staging-dir", t.TempDir(), eml)
	require.NoError(t, err)
	var yamlUnits []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &yamlUnits))
	require.Len(t, yamlUnits, 1)
	assert.Equal(t, "Name: Olena", yamlUnits[0]["text"])

	_, err = execute(t, "", "--env", env, "parse", "--format", "xml", eml)
	assert.Error(t, err)

	_, err = execute(t, "", "--env", env, "parse", filepath.Join(t.TempDir(), "nope.eml"))
	assert.Error(t, err)
}

func TestSetTelegramTokenFromPipe(t *testing.T) {
	var stored string
	prev := setTelegramToken
	setTelegramToken = func(token string) error {
		stored = token
		return nil
	}
	t.Cleanup(func() { setTelegramToken = prev })

	out, err := execute(t, "123:abc\n", "auth", "set-telegram-token")
	require.NoError(t, err)
	assert.Equal(t, "123:abc", stored)
	assert.Contains(t, out, "stored in keyring")

	_, err = execute(t, "", "auth", "set-telegram-token")
	assert.Error(t, err)
}

func TestSetIMAPPasswordUsesConfiguredUser(t *testing.T) {
	var gotUser, gotPassword string
	prev := setIMAPPassword
	setIMAPPassword = func(user, password string) error {
		gotUser, gotPassword = user, password
		return nil
	}
	t.Cleanup(func() { setIMAPPassword = prev })

	env := writeEnvFile(t, "IMAP_USER=relay@example.com")
	_, err := execute(t, "app-password\n", "--env", env, "auth", "set-imap-password")
	require.NoError(t, err)
	assert.Equal(t, "relay@example.com", gotUser)
	assert.Equal(t, "app-password", gotPassword)

	_, err = execute(t, "other\n", "--env", env, "auth", "set-imap-password", "--user", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", gotUser)
}

func TestAcquireLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")

	lock, err := acquireLock(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, lockFileName))

	_, err = acquireLock(dir)
	assert.ErrorIs(t, err, errAlreadyRunning)

	require.NoError(t, lock.Unlock())
	again, err := acquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestNewNotifier(t *testing.T) {
	n, err := newNotifier(&config.Config{Notifier: config.NotifierStdout})
	require.NoError(t, err)
	assert.IsType(t, &stdout.Notifier{}, n)

	n, err = newNotifier(&config.Config{Notifier: config.NotifierTelegram, TelegramToken: "123:abc", TelegramChatID: "-100200"})
	require.NoError(t, err)
	assert.IsType(t, &telegram.Notifier{}, n)

	_, err = newNotifier(&config.Config{Notifier: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewJournal(t *testing.T) {
	log := newTestLogger(t)

	j := newJournal(&config.Config{}, log)
	assert.IsType(t, imapworker.NopJournal{}, j)

	j = newJournal(&config.Config{RedisURL: "redis://127.0.0.1:1/0", TTLSeconds: 60}, log)
	assert.IsType(t, imapworker.NopJournal{}, j)

	mr := miniredis.RunT(t)
	j = newJournal(&config.Config{RedisURL: "redis://" + mr.Addr() + "/0", TTLSeconds: 60}, log)
	store, ok := j.(*redisstore.Store)
	require.True(t, ok)
	require.NoError(t, store.Close())
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	var out bytes.Buffer

	log, closeLog, err := newLogger(&config.Config{LogFile: path, LogLevel: "debug", LogFormat: "json"}, &out)
	require.NoError(t, err)
	log.Debug("cycle started", "cycle", "01ABC")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"cycle started"`)
	assert.Equal(t, out.String(), string(data))
}

func newTestLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, closeLog, err := newLogger(&config.Config{}, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeLog() })
	return log
}
