// Package telegram delivers alert text to a Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"automatex/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token  string
	ChatID string
	// LogChatID receives forwarded log lines; empty means ChatID.
	LogChatID string
	// APIURL overrides the Bot API base URL; empty means api.telegram.org.
	APIURL  string
	Timeout time.Duration
}

// chat addresses a chat by numeric id or @username, as the Bot API accepts both.
type chat string

func (c chat) Recipient() string { return string(c) }

// Sender posts MarkdownV2 messages to one chat. It never polls for updates.
type Sender struct {
	bot     *tele.Bot
	chat    chat
	logChat chat
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	logChat := strings.TrimSpace(cfg.LogChatID)
	if logChat == "" {
		logChat = cfg.ChatID
	}
	return &Sender{
		bot:     b,
		chat:    chat(strings.TrimSpace(cfg.ChatID)),
		logChat: chat(logChat),
		log:     log,
	}, nil
}

// SetLogger replaces the bootstrap logger once the logging service exists.
func (s *Sender) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		s.log = log
	}
}

// Send delivers text as MarkdownV2. Text longer than the Bot API limit is split
// on line boundaries and sent as consecutive messages.
func (s *Sender) Send(ctx context.Context, text string) error {
	return s.send(ctx, s.chat, text, tele.ModeMarkdownV2)
}

// SendLog delivers a plain-text log line to the log chat.
func (s *Sender) SendLog(ctx context.Context, text string) error {
	return s.send(ctx, s.logChat, text, tele.ModeDefault)
}

func (s *Sender) send(ctx context.Context, to chat, text string, mode tele.ParseMode) error {
	chunks := splitText(text, textLimit)
	for i, chunk := range chunks {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		opt := &tele.SendOptions{ParseMode: mode}
		if _, err := s.bot.Send(to, chunk, opt); err != nil {
			derr := asDeliveryError(err)
			s.log.Debug("sendMessage failed",
				logx.Int("chunk", i+1), logx.Int("chunks", len(chunks)), logx.Int("status", derr.Status))
			return derr
		}
	}
	return nil
}
