package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kultup/mailbot/internal/domain"
)

const (
	NotifierTelegram = "telegram"
	NotifierStdout   = "stdout"

	// DefaultBoilerplateMarker opens the footer a WordPress contact-form
	// plugin appends to every notification it mails out.
	DefaultBoilerplateMarker = "This is a notification that a contact form was submitted"
)

var defaultSenders = []string{"wordpress@krainamriy.fun", "no-reply@uployal.io", "email@krainamriy.fun"}

type Config struct {
	IMAPHost               string   `yaml:"imap_host" json:"imap_host"`
	IMAPPort               int      `yaml:"imap_port" json:"imap_port"`
	IMAPUser               string   `yaml:"imap_user" json:"imap_user"`
	IMAPPass               string   `yaml:"imap_password" json:"imap_password"`
	IMAPMailbox            string   `yaml:"imap_mailbox" json:"imap_mailbox"`
	IMAPTimeoutSeconds     int      `yaml:"imap_timeout_seconds" json:"imap_timeout_seconds"`
	IMAPInsecureSkipVerify bool     `yaml:"imap_insecure_skip_verify" json:"imap_insecure_skip_verify"`
	AllowedSenders         []string `yaml:"allowed_senders" json:"allowed_senders"`
	Notifier               string   `yaml:"notifier" json:"notifier"`
	TelegramToken          string   `yaml:"telegram_bot_token" json:"telegram_bot_token"`
	TelegramChatID         string   `yaml:"telegram_chat_id" json:"telegram_chat_id"`
	NotifyTitle            string   `yaml:"notify_title" json:"notify_title"`
	PollSeconds            int      `yaml:"poll_seconds" json:"poll_seconds"`
	StagingDir             string   `yaml:"staging_dir" json:"staging_dir"`
	CleanupStaged          bool     `yaml:"cleanup_staged" json:"cleanup_staged"`
	BoilerplateMarker      string   `yaml:"boilerplate_marker" json:"boilerplate_marker"`
	MaxEmailBytes          int      `yaml:"max_email_bytes" json:"max_email_bytes"`
	RedisURL               string   `yaml:"redis_url" json:"redis_url"`
	TTLSeconds             int      `yaml:"ttl_seconds" json:"ttl_seconds"`
	LogLevel               string   `yaml:"log_level" json:"log_level"`
	LogFormat              string   `yaml:"log_format" json:"log_format"`
	LogFile                string   `yaml:"log_file" json:"log_file"`
	APIAddr                string   `yaml:"api_addr" json:"api_addr"`
	AdminPassword          string   `yaml:"admin_password" json:"admin_password"`
	JWTSecret              string   `yaml:"jwt_secret" json:"jwt_secret"`
	RateLimitFetchPerMin   int      `yaml:"rate_limit_fetch_per_min" json:"rate_limit_fetch_per_min"`
}

// Load reads configuration from the dotenv-format file at envFile (skipped
// when it does not exist) and the process environment, which wins.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		IMAPHost:               v.GetString("imap_host"),
		IMAPPort:               v.GetInt("imap_port"),
		IMAPUser:               v.GetString("imap_user"),
		IMAPPass:               v.GetString("imap_password"),
		IMAPMailbox:            v.GetString("imap_mailbox"),
		IMAPTimeoutSeconds:     v.GetInt("imap_timeout_seconds"),
		IMAPInsecureSkipVerify: v.GetBool("imap_insecure_skip_verify"),
		AllowedSenders:         splitList(v.GetString("allowed_senders")),
		Notifier:               strings.ToLower(v.GetString("notifier")),
		TelegramToken:          v.GetString("telegram_bot_token"),
		TelegramChatID:         v.GetString("telegram_chat_id"),
		NotifyTitle:            v.GetString("notify_title"),
		PollSeconds:            v.GetInt("poll_seconds"),
		StagingDir:             v.GetString("staging_dir"),
		CleanupStaged:          v.GetBool("cleanup_staged"),
		BoilerplateMarker:      v.GetString("boilerplate_marker"),
		MaxEmailBytes:          v.GetInt("max_email_bytes"),
		RedisURL:               v.GetString("redis_url"),
		TTLSeconds:             v.GetInt("ttl_seconds"),
		LogLevel:               v.GetString("log_level"),
		LogFormat:              v.GetString("log_format"),
		LogFile:                v.GetString("log_file"),
		APIAddr:                v.GetString("api_addr"),
		AdminPassword:          v.GetString("admin_password"),
		JWTSecret:              v.GetString("jwt_secret"),
		RateLimitFetchPerMin:   v.GetInt("rate_limit_fetch_per_min"),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap_host", "imap.gmail.com")
	v.SetDefault("imap_port", 993)
	v.SetDefault("imap_user", "")
	v.SetDefault("imap_password", "")
	v.SetDefault("imap_mailbox", "INBOX")
	v.SetDefault("imap_timeout_seconds", 30)
	v.SetDefault("imap_insecure_skip_verify", false)
	v.SetDefault("allowed_senders", strings.Join(defaultSenders, ","))
	v.SetDefault("notifier", NotifierTelegram)
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("notify_title", "📬 *Повідомлення*:")
	v.SetDefault("poll_seconds", 300)
	v.SetDefault("staging_dir", "attachments")
	v.SetDefault("cleanup_staged", false)
	v.SetDefault("boilerplate_marker", DefaultBoilerplateMarker)
	v.SetDefault("max_email_bytes", 0)
	v.SetDefault("redis_url", "")
	v.SetDefault("ttl_seconds", 7*24*60*60)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "bot.log")
	v.SetDefault("api_addr", ":8080")
	v.SetDefault("admin_password", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("rate_limit_fetch_per_min", 60)
}

// Validate checks the values the relay cannot start without.
func Validate(cfg *Config) error {
	if cfg.IMAPHost == "" {
		return fmt.Errorf("IMAP_HOST is required")
	}
	if cfg.IMAPUser == "" {
		return fmt.Errorf("IMAP_USER is required")
	}
	if cfg.IMAPPass == "" {
		return fmt.Errorf("IMAP_PASSWORD is required")
	}
	if len(cfg.AllowedSenders) == 0 {
		return fmt.Errorf("ALLOWED_SENDERS must list at least one sender")
	}
	if cfg.PollSeconds <= 0 {
		return fmt.Errorf("POLL_SECONDS must be positive")
	}
	switch cfg.Notifier {
	case NotifierTelegram:
		if cfg.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
		}
		if cfg.TelegramChatID == "" {
			return fmt.Errorf("TELEGRAM_CHAT_ID is required")
		}
	case NotifierStdout:
	default:
		return fmt.Errorf("unknown NOTIFIER %q", cfg.Notifier)
	}
	return nil
}

// Redact returns a copy with every secret masked.
func Redact(cfg Config) Config {
	masked := cfg
	for _, s := range []*string{&masked.IMAPPass, &masked.TelegramToken, &masked.AdminPassword, &masked.JWTSecret} {
		if *s != "" {
			*s = "****"
		}
	}
	masked.AllowedSenders = append([]string(nil), cfg.AllowedSenders...)
	if u, err := url.Parse(cfg.RedisURL); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "****")
			masked.RedisURL = u.String()
		}
	}
	return masked
}

func (c *Config) Credentials() domain.MailboxCredentials {
	return domain.MailboxCredentials{
		Host:     c.IMAPHost,
		Port:     c.IMAPPort,
		Username: c.IMAPUser,
		Secret:   c.IMAPPass,
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.IMAPTimeoutSeconds) * time.Second
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// DefaultEnvFile is the dotenv file read when no other path is given.
func DefaultEnvFile() string {
	if v, ok := os.LookupEnv("MAILBOT_ENV_FILE"); ok {
		return v
	}
	return ".env"
}
