package telegram

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.TelegramBotAdapter = (*NoopBotAdapter)(nil)

// NoopBotAdapter logs messages instead of sending them. It also records
// what was sent so tests can assert on deliveries.
type NoopBotAdapter struct {
	mu   sync.Mutex
	log  *zerolog.Logger
	sent []SentMessage
}

type SentMessage struct {
	TelegramID int64
	Text       string
	Rows       [][]adapter.InlineButton
}

func NewNoopBotAdapter(log *zerolog.Logger) *NoopBotAdapter {
	l := log.With().Str("component", "noop-telegram").Logger()
	return &NoopBotAdapter{log: &l}
}

func (b *NoopBotAdapter) SendMessage(ctx context.Context, telegramID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.sent = append(b.sent, SentMessage{TelegramID: telegramID, Text: text})
	b.mu.Unlock()
	b.log.Info().Int64("user_id", telegramID).Str("text", text).Msg("message")
	return nil
}

func (b *NoopBotAdapter) SendButtons(ctx context.Context, telegramID int64, text string, rows [][]adapter.InlineButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.sent = append(b.sent, SentMessage{TelegramID: telegramID, Text: text, Rows: rows})
	b.mu.Unlock()
	b.log.Info().Int64("user_id", telegramID).Str("text", text).Msg("message with buttons")
	return nil
}

// Sent returns a copy of everything delivered so far.
func (b *NoopBotAdapter) Sent() []SentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SentMessage, len(b.sent))
	copy(out, b.sent)
	return out
}
