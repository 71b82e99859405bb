// Package notify delivers the one-per-pass replay summary to people.
package notify

import (
	"context"
	"fmt"
	"strings"

	"intake/internal/logging"
	"intake/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type Notifier interface {
	Notify(ctx context.Context, summary models.ReplaySummary)
}

// Multi fans a summary out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, summary models.ReplaySummary) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, summary)
		}
	}
}

// LogNotifier writes the summary to the log.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.Component(logger, "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, summary models.ReplaySummary) {
	ev := n.logger.Info()
	if summary.Failed() > 0 {
		ev = n.logger.Warn()
	}
	ev.Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed()).
		Msg(summary.Message())
}

// Sender is the part of tgbotapi.BotAPI used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts the summary to a Telegram chat.
type TelegramNotifier struct {
	bot    Sender
	chatID int64
	agent  func() string
	logger *zerolog.Logger
}

// NewTelegramNotifier builds a notifier for chatID. agent, when set, names
// the signed-in agent in the message header.
func NewTelegramNotifier(bot Sender, chatID int64, agent func() string, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		agent:  agent,
		logger: logging.Component(logger, "telegram_notify"),
	}
}

func (n *TelegramNotifier) Notify(_ context.Context, summary models.ReplaySummary) {
	msg := tgbotapi.NewMessage(n.chatID, n.render(summary))
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("send sync summary")
	}
}

func (n *TelegramNotifier) render(summary models.ReplaySummary) string {
	var b strings.Builder
	b.WriteString("Sync")
	if n.agent != nil {
		if id := n.agent(); id != "" {
			fmt.Fprintf(&b, " (%s)", id)
		}
	}
	b.WriteString(": ")
	b.WriteString(summary.Message())
	if summary.Deferred > 0 {
		fmt.Fprintf(&b, "\n%d waiting for the next attempt", summary.Deferred)
	}
	return b.String()
}
