// Package notify delivers operator notifications: fills, rejections, stops
// and the daily P&L summary.
package notify

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Notifier sends a human-readable message to the operator. Implementations
// must never block trading: failures are logged and swallowed.
type Notifier interface {
	Notify(text string)
}

// Noop discards every message. Used when no channel is configured.
type Noop struct{}

func (Noop) Notify(string) {}

// Telegram sends messages to a fixed chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "init telegram bot")
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) Notify(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram send failed", zap.Error(err))
	}
}
