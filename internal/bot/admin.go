package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"gopkg.in/telebot.v4"
)

const tendersPageSize = 5

func (b *Bot) onApprove(uc *UpdateContext) error {
	userID, err := payloadID(uc, callback.ActionApprove)
	if err != nil {
		return err
	}
	user, err := b.moderation.Approve(uc, uc.Sender().ID, userID)
	if err != nil {
		return err
	}
	return uc.TC().Edit(fmt.Sprintf("✅ %s одобрен(а) и получает тендеры.", user.FullName))
}

func (b *Bot) onReject(uc *UpdateContext) error {
	userID, err := payloadID(uc, callback.ActionReject)
	if err != nil {
		return err
	}
	user, err := b.moderation.Reject(uc, uc.Sender().ID, userID)
	if err != nil {
		return err
	}
	return uc.TC().Edit(fmt.Sprintf("❌ Заявка %s отклонена.", user.FullName))
}

// handleWorkers lists profiles waiting for moderation, each with its own
// approve/reject pair.
func (b *Bot) handleWorkers(uc *UpdateContext) error {
	if !b.isAdmin(uc.Sender().ID) {
		return domain.ErrPermissionDenied
	}

	pending := models.UserStatusPendingModeration
	users, err := b.storage.ListUsers(uc, &pending)
	if err != nil {
		return fmt.Errorf("listing pending users: %w", err)
	}
	if len(users) == 0 {
		return uc.TC().Send("Нет заявок на модерацию.")
	}

	for _, user := range users {
		markup := &telebot.ReplyMarkup{}
		markup.InlineKeyboard = [][]telebot.InlineButton{{
			{Text: "✅ Одобрить", Data: callback.ActionApprove.EncodeID(user.ID)},
			{Text: "❌ Отклонить", Data: callback.ActionReject.EncodeID(user.ID)},
		}}
		if err := uc.TC().Send(profileCard(user), markup); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) handleTenders(uc *UpdateContext) error {
	if !b.isAdmin(uc.Sender().ID) {
		return domain.ErrPermissionDenied
	}
	return b.sendTendersPage(uc, 0, false)
}

func (b *Bot) onTendersPage(uc *UpdateContext) error {
	if !b.isAdmin(uc.Sender().ID) {
		return domain.ErrPermissionDenied
	}
	page, err := callback.ParseID(payload(uc, callback.ActionTendersPage))
	if err != nil {
		return err
	}
	return b.sendTendersPage(uc, int(page), true)
}

func (b *Bot) sendTendersPage(uc *UpdateContext, page int, edit bool) error {
	tenders, err := b.storage.ListTenders(uc, nil, page*tendersPageSize, tendersPageSize+1)
	if err != nil {
		return fmt.Errorf("listing tenders: %w", err)
	}
	if len(tenders) == 0 {
		if page == 0 {
			return uc.TC().Send("Тендеров пока нет.")
		}
		return uc.TC().Respond(&telebot.CallbackResponse{Text: "Это последняя страница."})
	}

	hasNext := len(tenders) > tendersPageSize
	if hasNext {
		tenders = tenders[:tendersPageSize]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Тендеры, страница %d:\n\n", page+1)
	for _, t := range tenders {
		deadline := ""
		if d := t.DeadlineUTC(); d != nil {
			deadline = ", до " + d.Format("02.01 15:04")
		}
		fmt.Fprintf(&sb, "#%d [%s] %s — %s, %s%s\n", t.ID, statusLabel(t.Status), t.Title, t.Category, t.City, deadline)
	}

	var nav []telebot.InlineButton
	if page > 0 {
		nav = append(nav, telebot.InlineButton{
			Text: "⬅️", Data: callback.ActionTendersPage.EncodeID(uint(page - 1)),
		})
	}
	if hasNext {
		nav = append(nav, telebot.InlineButton{
			Text: "➡️", Data: callback.ActionTendersPage.EncodeID(uint(page + 1)),
		})
	}
	markup := &telebot.ReplyMarkup{}
	if len(nav) > 0 {
		markup.InlineKeyboard = [][]telebot.InlineButton{nav}
	}

	if edit {
		return uc.TC().Edit(sb.String(), markup)
	}
	return uc.TC().Send(sb.String(), markup)
}

func statusLabel(s models.TenderStatus) string {
	switch s {
	case models.TenderStatusDraft:
		return "черновик"
	case models.TenderStatusOpen:
		return "открыт"
	case models.TenderStatusInProgress:
		return "в работе"
	case models.TenderStatusClosed:
		return "завершён"
	case models.TenderStatusCancelled:
		return "отменён"
	}
	return string(s)
}

func (b *Bot) handleStats(uc *UpdateContext) error {
	if !b.isAdmin(uc.Sender().ID) {
		return domain.ErrPermissionDenied
	}

	stats, err := b.storage.CollectStats(uc, time.Now())
	if err != nil {
		return fmt.Errorf("collecting stats: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Статистика\n\nПользователей: %d\n", stats.UsersTotal)
	for _, g := range stats.UsersByGroup {
		fmt.Fprintf(&sb, "  %s / %s: %d\n", g.Role, g.Status, g.Count)
	}
	fmt.Fprintf(&sb, "\nТендеров: %d\n", stats.TendersTotal)
	for _, g := range stats.TendersByStatus {
		fmt.Fprintf(&sb, "  %s: %d\n", statusLabel(g.Status), g.Count)
	}
	fmt.Fprintf(&sb, "\nОткликов за сутки: %d\nОткликов за неделю: %d\n",
		stats.ApplicationsDay, stats.ApplicationsWeek)

	return uc.TC().Send(sb.String())
}
