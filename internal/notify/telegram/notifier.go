// Package telegram sends operator notifications as bot messages.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/channel-appraiser/internal/notify"
)

// Sender is the subset of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier messages the admin chat.
type Notifier struct {
	bot    Sender
	chatID int64
}

// New returns a Notifier that writes to chatID.
func New(bot Sender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// Notify implements notify.Notifier. Without an admin chat it does nothing.
func (n *Notifier) Notify(_ context.Context, event notify.Event) error {
	if n.chatID == 0 {
		return nil
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, Text(event))); err != nil {
		return fmt.Errorf("send admin notification: %w", err)
	}
	return nil
}

// Text renders event for a human.
func Text(event notify.Event) string {
	switch event.Kind {
	case notify.KindMilestone:
		return fmt.Sprintf("🎉 В базе уже %d каналов! Последний: @%s", event.Total, event.Handle)
	default:
		return fmt.Sprintf("%s: %d (@%s)", event.Kind, event.Total, event.Handle)
	}
}
