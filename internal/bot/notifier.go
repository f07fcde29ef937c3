package bot

import (
	"context"

	"github.com/tbmatch/tenderbot/internal/notify"
	"gopkg.in/telebot.v4"
)

// Notifier delivers service-layer notifications through the long-polling
// connection. Button data is pre-encoded callback data, passed through as-is
// so both processes speak the same wire format.
type Notifier struct {
	bot telebot.API
}

func NewNotifier(bot telebot.API) *Notifier {
	return &Notifier{bot: bot}
}

func (n *Notifier) Send(ctx context.Context, tgID int64, msg notify.Message) error {
	var opts []any
	if len(msg.Buttons) > 0 {
		markup := &telebot.ReplyMarkup{}
		rows := make([][]telebot.InlineButton, 0, len(msg.Buttons))
		for _, row := range msg.Buttons {
			btns := make([]telebot.InlineButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, telebot.InlineButton{
					Text: b.Label,
					Data: b.Data,
					URL:  b.URL,
				})
			}
			rows = append(rows, btns)
		}
		markup.InlineKeyboard = rows
		opts = append(opts, markup)
	}

	_, err := n.bot.Send(&telebot.User{ID: tgID}, msg.Text, opts...)
	return err
}
