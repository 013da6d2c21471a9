package telegrambot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/trezcool/elimu/core"
)

// Notifier delivers notifications over Telegram to users who linked a
// chat via /login. Unknown recipients are skipped silently; they still
// get the email copy.
type Notifier struct {
	api      *tgbotapi.BotAPI
	registry ChatRegistry
	logger   core.Logger
}

var _ core.Notifier = (*Notifier)(nil)

func NewNotifier(b *Bot) *Notifier {
	return &Notifier{api: b.api, registry: b.registry, logger: b.logger}
}

func (n *Notifier) Notify(_ context.Context, note core.Notification) {
	chatID, ok := n.registry.ChatByUser(note.Recipient)
	if !ok {
		return
	}

	msg := tgbotapi.NewMessage(chatID, note.Subject+"\n\n"+note.Message)
	if len(note.Actions) > 0 {
		var btns []tgbotapi.InlineKeyboardButton
		for _, a := range note.Actions {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Action+":"+a.RequestID))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(btns)
	}
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("sending telegram notification", "recipient", note.Recipient, "err", err)
	}
}
