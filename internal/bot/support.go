package bot

import (
	"errors"
	"fmt"

	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/wizard"
	"gopkg.in/telebot.v4"
)

func (b *Bot) handleSupport(uc *UpdateContext) error {
	user, err := b.userByTg(uc, uc.Sender().ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uc.TC().Send("Поддержка доступна после регистрации: /register")
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	ticket, err := b.support.OpenOrReuse(uc, user.ID)
	if err != nil {
		return fmt.Errorf("opening ticket: %w", err)
	}

	b.sessions.Begin(uc.Sender().ID, wizard.StepSupportChat)
	b.sessions.Update(uc.Sender().ID, func(s *wizard.Session) {
		s.SupportTicketID = ticket.ID
	})

	return uc.TC().Send(
		fmt.Sprintf("Обращение #%d открыто. Опишите проблему, сообщения попадут администратору.", ticket.ID),
		supportMarkup(ticket.ID),
	)
}

func supportMarkup(ticketID uint) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{{{
		Text: "Завершить диалог",
		Data: callback.ActionSupportEnd.EncodeID(ticketID),
	}}}
	return markup
}

func (b *Bot) supportText(uc *UpdateContext, text string) error {
	snap, ok := b.sessions.Snapshot(uc.Sender().ID)
	if !ok || snap.SupportTicketID == 0 {
		return domain.ErrNotFound
	}

	if _, err := b.support.PostUserMessage(uc, snap.SupportTicketID, text); err != nil {
		// The admin may have closed the ticket from the web panel; drop the
		// stuck session instead of rejecting every further message.
		if errors.Is(err, domain.ErrTicketClosed) {
			b.sessions.Clear(uc.Sender().ID)
			return uc.TC().Send("Обращение закрыто поддержкой. Открыть новое: /support")
		}
		return err
	}

	// The admin reads and replies through the web panel; the forward is a
	// real-time heads-up.
	forward := fmt.Sprintf("🆘 Обращение #%d от %s:\n\n%s",
		snap.SupportTicketID, senderName(uc.Sender()), text)
	if _, err := uc.Bot().Send(&telebot.User{ID: b.config.AdminTgID}, forward); err != nil {
		uc.L().Errorf("forwarding support message: %v", err)
	}

	return uc.TC().Send("Сообщение передано поддержке.", supportMarkup(snap.SupportTicketID))
}

func (b *Bot) onSupportEnd(uc *UpdateContext) error {
	ticketID, err := payloadID(uc, callback.ActionSupportEnd)
	if err != nil {
		return err
	}

	if err := b.support.Close(uc, ticketID); err != nil && !errors.Is(err, domain.ErrTicketClosed) {
		return err
	}
	b.sessions.Clear(uc.Sender().ID)
	return uc.TC().Edit(fmt.Sprintf("Обращение #%d закрыто. Спасибо!", ticketID))
}

func senderName(u *telebot.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
}
