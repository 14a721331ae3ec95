// Package telegram implements a Notifier that posts to a Telegram chat
// through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Kultup/mailbot/internal/domain"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/notify"
)

// Bot API limits, counted in characters.
const (
	maxMessageRunes = 4096
	maxCaptionRunes = 1024
)

// Sender is the Bot API call used to deliver a message. Used for testing
// with mock implementations.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Config struct {
	Token string
	// ChatID is a numeric chat id or an @channel username.
	ChatID  string
	Title   string
	Timeout time.Duration
	// Endpoint overrides tgbotapi.APIEndpoint.
	Endpoint string
}

type Notifier struct {
	sender Sender
	chat   chat
	title  string
}

// New builds a notifier backed by the Bot API. It does not contact Telegram;
// a bad token surfaces on the first Notify.
func New(cfg Config) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot := &tgbotapi.BotAPI{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.Timeout},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(endpoint)

	return NewWithSender(bot, cfg.ChatID, cfg.Title)
}

// NewWithSender creates a Notifier with a custom sender, used for testing.
func NewWithSender(sender Sender, chatID, title string) (*Notifier, error) {
	c, err := parseChat(chatID)
	if err != nil {
		return nil, err
	}
	return &Notifier{sender: sender, chat: c, title: title}, nil
}

func (n *Notifier) Name() string {
	return "telegram"
}

// Notify sends a photo or a document captioned with the message text, or a
// Markdown text message when the unit has no attachment.
func (n *Notifier) Notify(ctx context.Context, unit domain.NotificationUnit) error {
	kind := unit.Kind()
	if err := ctx.Err(); err != nil {
		return &notify.DispatchError{Notifier: n.Name(), Kind: kind, Err: err}
	}

	msg, clipped := n.chattable(unit)
	if clipped {
		logger.FromContext(ctx).Warn("telegram text clipped", "kind", kind, "runes", utf8.RuneCountInString(unit.Text))
	}
	if _, err := n.sender.Send(msg); err != nil {
		return &notify.DispatchError{Notifier: n.Name(), Kind: kind, Err: err}
	}
	return nil
}

// chattable builds the Bot API request for unit and reports whether its
// text had to be clipped to fit.
func (n *Notifier) chattable(unit domain.NotificationUnit) (tgbotapi.Chattable, bool) {
	if unit.Attachment == nil {
		text := notify.Compose(n.title, tgbotapi.EscapeText(tgbotapi.ModeMarkdown, unit.Text))
		clipped := clip(text, maxMessageRunes)
		msg := tgbotapi.NewMessage(n.chat.id, clipped)
		msg.ChannelUsername = n.chat.username
		msg.ParseMode = tgbotapi.ModeMarkdown
		return msg, clipped != text
	}

	full := notify.Compose(n.title, unit.Text)
	caption := clip(full, maxCaptionRunes)
	file := tgbotapi.FilePath(unit.Attachment.Path)
	if unit.Attachment.Kind == domain.AttachmentImage {
		photo := tgbotapi.NewPhoto(n.chat.id, file)
		photo.ChannelUsername = n.chat.username
		photo.Caption = caption
		return photo, caption != full
	}
	doc := tgbotapi.NewDocument(n.chat.id, file)
	doc.ChannelUsername = n.chat.username
	doc.Caption = caption
	return doc, caption != full
}

type chat struct {
	id       int64
	username string
}

func parseChat(s string) (chat, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		return chat{username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return chat{}, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	return chat{id: id}, nil
}

// clip cuts s to at most limit runes. A trailing backslash left by the cut
// would escape nothing, so it is dropped too.
func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)[:limit]
	return strings.TrimRight(string(runes), `\`)
}
