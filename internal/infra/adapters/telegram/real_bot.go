package telegram

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.TelegramBotAdapter = (*RealBotAdapter)(nil)

// RealBotAdapter sends lifecycle messages through the Bot API. The
// billing engine never polls updates; the interactive bot lives in a
// separate process.
type RealBotAdapter struct {
	bot *tgbotapi.BotAPI
}

func NewRealBotAdapter(cfg *config.BotConfig) (*RealBotAdapter, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot token required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &RealBotAdapter{bot: bot}, nil
}

func (r *RealBotAdapter) SendMessage(ctx context.Context, telegramID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(telegramID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := r.bot.Send(msg)
	return err
}

func (r *RealBotAdapter) SendButtons(ctx context.Context, telegramID int64, text string, rows [][]adapter.InlineButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(telegramID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = buildMarkup(rows)
	_, err := r.bot.Send(msg)
	return err
}

func buildMarkup(rows [][]adapter.InlineButton) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		kb = append(kb, btns)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}
