package notify

import "context"

// Button is a single inline-keyboard action attached to a message. Data is
// pre-encoded callback data; URL buttons open a link instead.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Message is a transport-agnostic outbound chat message.
type Message struct {
	Text    string
	Buttons [][]Button
}

// Notifier delivers a message to a Telegram user. The bot process backs it
// with the long-polling connection, the web process with the Bot HTTP API.
// Callers treat failures as best-effort: logged and counted, never fatal to
// the surrounding batch.
type Notifier interface {
	Send(ctx context.Context, tgID int64, msg Message) error
}
