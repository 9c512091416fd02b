package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageRunes = 4000

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint, for tests and self-hosted servers.
	APIURL  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Notifier delivers generated digests to a Telegram chat.
type Notifier struct {
	bot    *gotgbot.Bot
	token  string
	logger zerolog.Logger
}

func NewNotifier(cfg Config) (*Notifier, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	reqOpts := &gotgbot.RequestOpts{Timeout: cfg.Timeout, APIURL: cfg.APIURL}
	bot, err := gotgbot.NewBot(token, &gotgbot.BotOpts{
		BotClient: &gotgbot.BaseBotClient{
			DefaultRequestOpts: reqOpts,
		},
		DisableTokenCheck: cfg.APIURL != "",
		RequestOpts:       reqOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %s", sanitizeErr(err, token))
	}
	n := &Notifier{
		bot:    bot,
		token:  token,
		logger: cfg.Logger.With().Str("component", "telegram").Logger(),
	}
	if bot.User.Username != "" {
		n.logger.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")
	}
	return n, nil
}

func (n *Notifier) SendDigest(ctx context.Context, chatID int64, text string) error {
	text = truncate(strings.TrimSpace(text), maxMessageRunes)
	if text == "" {
		return nil
	}
	_, err := n.bot.SendMessageWithContext(ctx, chatID, text, &gotgbot.SendMessageOpts{
		LinkPreviewOptions: &gotgbot.LinkPreviewOptions{IsDisabled: true},
	})
	if err != nil {
		return fmt.Errorf("send digest to chat %d: %s", chatID, sanitizeErr(err, n.token))
	}
	return nil
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit-1]) + "…"
}

// sanitizeErr strips the bot token from Bot API error strings, which embed
// the request URL.
func sanitizeErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
