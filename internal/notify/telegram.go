package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// TelegramClient sends messages through the Bot HTTP API. The web process
// uses it to reach users out-of-band, without sharing the bot's polling
// connection.
type TelegramClient struct {
	client *resty.Client
}

func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		client: resty.New().SetBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", token)),
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type sendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ParseMode   string `json:"parse_mode,omitempty"`
	ReplyMarkup *struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

func (c *TelegramClient) Send(ctx context.Context, tgID int64, msg Message) error {
	req := sendMessageRequest{
		ChatID:    tgID,
		Text:      msg.Text,
		ParseMode: "HTML",
	}
	if len(msg.Buttons) > 0 {
		keyboard := make([][]inlineButton, 0, len(msg.Buttons))
		for _, row := range msg.Buttons {
			btns := make([]inlineButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, inlineButton{
					Text:         b.Label,
					CallbackData: b.Data,
					URL:          b.URL,
				})
			}
			keyboard = append(keyboard, btns)
		}
		req.ReplyMarkup = &struct {
			InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: keyboard}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}
