package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender entrega notificaciones por la Bot API de Telegram.
type TelegramSender struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegramSender valida el token contra la API (getMe) y devuelve el sender.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("notify.NewTelegramSender: token and chat id are required")
	}
	bot, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegramSender: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

// Send publica el mensaje en el chat configurado. El título va en negrita.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbot.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", tgbot.EscapeText(tgbot.ModeMarkdown, title), message))
	msg.ParseMode = tgbot.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Name devuelve el identificador del sender.
func (t *TelegramSender) Name() string { return "telegram" }
