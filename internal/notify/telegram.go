// Package notify pushes dispatch results to Telegram.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"copytrade/internal/replication"
)

// Telegram sends one message per dispatch attempt to a fixed chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// New authorizes the bot and returns the notifier.
func New(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize bot: %w", err)
	}

	logger.Info("✅ Bot authorized", slog.String("username", bot.Self.UserName))

	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// NotifyTrade reports one dispatch attempt. It returns immediately; the send
// happens in the background so a slow Telegram API never delays dispatch.
func (t *Telegram) NotifyTrade(entry replication.TradeLogEntry) {
	go func() {
		msg := tgbotapi.NewMessage(t.chatID, formatTrade(entry))
		msg.ParseMode = "HTML"

		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Warn("Failed to send notification", slog.Any("error", err))
		}
	}()
}

func formatTrade(entry replication.TradeLogEntry) string {
	at := time.UnixMilli(entry.TimeMs).Format("15:04:05")

	if entry.Error != "" {
		return fmt.Sprintf("❌ <b>Trade failed</b>\nAccount: %s\nTime: %s\nError: %s",
			entry.AccountID, at, entry.Error)
	}

	return fmt.Sprintf("✅ <b>Trade replicated</b>\nAccount: %s\nTime: %s",
		entry.AccountID, at)
}
