package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/tender"
	"github.com/tbmatch/tenderbot/internal/wizard"
	"gopkg.in/telebot.v4"
)

func (b *Bot) handleAddTender(uc *UpdateContext) error {
	if !b.isAdmin(uc.Sender().ID) {
		user, err := b.userByTg(uc, uc.Sender().ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("looking up user: %w", err)
		}
		if user == nil || user.Status != models.UserStatusActive || !user.IsCustomer() {
			return uc.TC().Send("Размещать тендеры могут только проверенные заказчики.")
		}
	}

	b.sessions.Begin(uc.Sender().ID, wizard.StepTenderTitle)
	return uc.TC().Send("Название тендера:")
}

// handleMyTenders lists the caller's own tenders, each with the lifecycle
// buttons its status allows, so an owner can manage a tender after the
// creation-time message is gone.
func (b *Bot) handleMyTenders(uc *UpdateContext) error {
	user, err := b.userByTg(uc, uc.Sender().ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uc.TC().Send("Сначала зарегистрируйтесь: /register")
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	tenders, err := b.storage.ListTendersByCreator(uc, user.ID)
	if err != nil {
		return fmt.Errorf("listing own tenders: %w", err)
	}
	if len(tenders) == 0 {
		return uc.TC().Send("У вас пока нет тендеров. Создать: /add_tender")
	}

	for _, t := range tenders {
		text := fmt.Sprintf("#%d [%s] %s — %s, %s", t.ID, statusLabel(t.Status), t.Title, t.Category, t.City)
		markup := ownerTenderMarkup(t)
		if markup == nil {
			if err := uc.TC().Send(text); err != nil {
				return err
			}
			continue
		}
		if err := uc.TC().Send(text, markup); err != nil {
			return err
		}
	}
	return nil
}

// ownerTenderMarkup returns the buttons valid for the tender's status, nil
// for terminal states.
func ownerTenderMarkup(t *models.Tender) *telebot.ReplyMarkup {
	var row []telebot.InlineButton
	switch t.Status {
	case models.TenderStatusDraft:
		row = []telebot.InlineButton{
			{Text: "🚀 Опубликовать", Data: callback.ActionPublish.EncodeID(t.ID)},
			{Text: "❌ Отменить", Data: callback.ActionCancelTender.EncodeID(t.ID)},
		}
	case models.TenderStatusOpen:
		row = []telebot.InlineButton{
			{Text: "❌ Отменить", Data: callback.ActionCancelTender.EncodeID(t.ID)},
		}
	case models.TenderStatusInProgress:
		row = []telebot.InlineButton{
			{Text: "Завершить тендер", Data: callback.ActionCloseTender.EncodeID(t.ID)},
		}
	default:
		return nil
	}
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{row}
	return markup
}

func (b *Bot) tenderText(uc *UpdateContext, step wizard.Step, text string) error {
	tgID := uc.Sender().ID

	switch step {
	case wizard.StepTenderTitle:
		if text == "" {
			return domain.Invalid("название не может быть пустым")
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Tender.Title = text
			s.Step = wizard.StepTenderCategory
		})
		return uc.TC().Send("Категория работ:", b.categoriesMarkup())

	case wizard.StepTenderCategory:
		return uc.TC().Send("Выберите категорию кнопкой.")

	case wizard.StepTenderCity:
		city, err := wizard.ValidateCity(text)
		if err != nil {
			return err
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Tender.City = city
			s.Step = wizard.StepTenderBudget
		})
		return uc.TC().Send("Бюджет (сумма или «договорной», «-» чтобы пропустить):")

	case wizard.StepTenderBudget:
		if text == "-" {
			text = ""
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Tender.Budget = text
			s.Step = wizard.StepTenderDescription
		})
		return uc.TC().Send("Описание работ:")

	case wizard.StepTenderDescription:
		if text == "" {
			return domain.Invalid("описание не может быть пустым")
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Tender.Description = text
			s.Step = wizard.StepTenderDeadline
		})
		return uc.TC().Send("Срок приёма откликов (ДД.ММ.ГГГГ ЧЧ:ММ) или «нет»:")

	case wizard.StepTenderDeadline:
		deadline, err := wizard.ParseDeadline(text)
		if err != nil {
			return err
		}
		var draft wizard.TenderDraft
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Tender.Deadline = deadline
			s.Step = wizard.StepTenderConfirm
			draft = s.Tender
		})
		return uc.TC().Send(draftSummary(draft), confirmMarkup())

	case wizard.StepTenderConfirm:
		return uc.TC().Send("Используйте кнопки, чтобы подтвердить или отменить.")
	}

	return nil
}

func (b *Bot) categoriesMarkup() *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	rows := make([][]telebot.InlineButton, 0, len(b.config.SkillTags))
	for _, tag := range b.config.SkillTags {
		rows = append(rows, []telebot.InlineButton{{
			Text: tag,
			Data: callback.ActionCategory.Encode(tag),
		}})
	}
	markup.InlineKeyboard = rows
	return markup
}

func confirmMarkup() *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{
		{
			{Text: "🚀 Опубликовать", Data: callback.ActionConfirm.Encode("publish")},
			{Text: "💾 Черновик", Data: callback.ActionConfirm.Encode("save")},
		},
		{{Text: "❌ Отмена", Data: callback.ActionConfirm.Encode("cancel")}},
	}
	return markup
}

func draftSummary(d wizard.TenderDraft) string {
	budget := d.Budget
	if budget == "" {
		budget = "не указан"
	}
	deadline := "без ограничения"
	if d.Deadline != nil {
		deadline = d.Deadline.Format("02.01.2006 15:04") + " UTC"
	}
	return fmt.Sprintf(
		"Проверьте тендер:\n\nНазвание: %s\nКатегория: %s\nГород: %s\nБюджет: %s\nСрок откликов: %s\n\n%s",
		d.Title, d.Category, d.City, budget, deadline, d.Description,
	)
}

func (b *Bot) onTenderCategory(uc *UpdateContext) error {
	tgID := uc.Sender().ID
	if b.sessions.Step(tgID) != wizard.StepTenderCategory {
		return uc.TC().Respond(&telebot.CallbackResponse{Text: "Этот шаг уже пройден."})
	}

	tag := payload(uc, callback.ActionCategory)
	b.sessions.Update(tgID, func(s *wizard.Session) {
		s.Tender.Category = tag
		s.Step = wizard.StepTenderCity
	})
	if err := uc.TC().Respond(&telebot.CallbackResponse{}); err != nil {
		uc.L().Errorf("responding to callback: %v", err)
	}
	return uc.TC().Send(fmt.Sprintf("Категория: %s\n\nГород:", tag))
}

func (b *Bot) onTenderConfirm(uc *UpdateContext) error {
	tgID := uc.Sender().ID
	if b.sessions.Step(tgID) != wizard.StepTenderConfirm {
		return uc.TC().Respond(&telebot.CallbackResponse{Text: "Этот шаг уже пройден."})
	}

	action := payload(uc, callback.ActionConfirm)
	if action == "cancel" {
		b.sessions.Clear(tgID)
		return uc.TC().Edit("Создание тендера отменено.")
	}

	snap, ok := b.sessions.Snapshot(tgID)
	if !ok {
		return domain.ErrNotFound
	}
	draft := snap.Tender

	t, err := b.tenders.Create(uc, tgID, tender.CreateInput{
		Title:       draft.Title,
		Category:    draft.Category,
		City:        draft.City,
		Budget:      draft.Budget,
		Description: draft.Description,
		Deadline:    draft.Deadline,
	})
	if err != nil {
		return err
	}
	b.sessions.Clear(tgID)

	switch action {
	case "publish":
		res, err := b.tenders.Publish(uc, tgID, t.ID)
		if err != nil {
			return err
		}
		return uc.TC().Edit(fmt.Sprintf(
			"Тендер #%d опубликован. Уведомлено исполнителей: %d из %d.",
			t.ID, res.Sent, res.Eligible,
		))
	default:
		markup := &telebot.ReplyMarkup{}
		markup.InlineKeyboard = [][]telebot.InlineButton{{
			{Text: "🚀 Опубликовать", Data: callback.ActionPublish.EncodeID(t.ID)},
			{Text: "❌ Отменить", Data: callback.ActionCancelTender.EncodeID(t.ID)},
		}}
		return uc.TC().Edit(fmt.Sprintf("Тендер #%d сохранён как черновик.", t.ID), markup)
	}
}

func (b *Bot) onPublish(uc *UpdateContext) error {
	id, err := payloadID(uc, callback.ActionPublish)
	if err != nil {
		return err
	}
	res, err := b.tenders.Publish(uc, uc.Sender().ID, id)
	if err != nil {
		return err
	}
	return uc.TC().Edit(fmt.Sprintf(
		"Тендер #%d опубликован. Уведомлено исполнителей: %d из %d.",
		id, res.Sent, res.Eligible,
	))
}

func (b *Bot) onApply(uc *UpdateContext) error {
	id, err := payloadID(uc, callback.ActionApply)
	if err != nil {
		return err
	}
	if _, err := b.tenders.Apply(uc, uc.Sender().ID, id); err != nil {
		return err
	}
	return uc.TC().Respond(&telebot.CallbackResponse{
		Text:      "Отклик отправлен! Заказчик свяжется с вами.",
		ShowAlert: true,
	})
}

func (b *Bot) onSelect(uc *UpdateContext) error {
	id, err := payloadID(uc, callback.ActionSelect)
	if err != nil {
		return err
	}
	res, err := b.tenders.SelectApplicant(uc, uc.Sender().ID, id)
	if err != nil {
		return err
	}

	name := "исполнитель"
	if res.Selected.User != nil {
		name = res.Selected.User.FullName
	}
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{{
		{Text: "Завершить тендер", Data: callback.ActionCloseTender.EncodeID(res.Selected.TenderID)},
	}}
	return uc.TC().Edit(fmt.Sprintf(
		"Выбран исполнитель: %s. Остальные отклики отклонены (%d).",
		name, len(res.Rejected),
	), markup)
}

func (b *Bot) onCloseTender(uc *UpdateContext) error {
	id, err := payloadID(uc, callback.ActionCloseTender)
	if err != nil {
		return err
	}
	res, err := b.tenders.Close(uc, uc.Sender().ID, id)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Тендер #%d завершён.", id)
	if res.ReviewPrompted {
		text += " Заказчику отправлено предложение оценить исполнителя."
	}
	return uc.TC().Edit(text)
}

func (b *Bot) onCancelTender(uc *UpdateContext) error {
	id, err := payloadID(uc, callback.ActionCancelTender)
	if err != nil {
		return err
	}
	if _, err := b.tenders.Cancel(uc, uc.Sender().ID, id); err != nil {
		return err
	}
	return uc.TC().Edit(fmt.Sprintf("Тендер #%d отменён.", id))
}

func (b *Bot) onRate(uc *UpdateContext) error {
	tenderID, err := payloadID(uc, callback.ActionRate)
	if err != nil {
		return err
	}
	if _, err := b.tenders.StartReview(uc, uc.Sender().ID, tenderID); err != nil {
		return err
	}

	b.sessions.Begin(uc.Sender().ID, wizard.StepReviewRating)
	b.sessions.Update(uc.Sender().ID, func(s *wizard.Session) {
		s.Review.TenderID = tenderID
	})

	markup := &telebot.ReplyMarkup{}
	row := make([]telebot.InlineButton, 0, models.RatingMax)
	for r := models.RatingMin; r <= models.RatingMax; r++ {
		row = append(row, telebot.InlineButton{
			Text: strings.Repeat("★", r),
			Data: callback.ActionRating.Encode(fmt.Sprintf("%d", r)),
		})
	}
	markup.InlineKeyboard = [][]telebot.InlineButton{row}
	return uc.TC().Send("Оцените работу исполнителя:", markup)
}

func (b *Bot) onRating(uc *UpdateContext) error {
	tgID := uc.Sender().ID
	if b.sessions.Step(tgID) != wizard.StepReviewRating {
		return uc.TC().Respond(&telebot.CallbackResponse{Text: "Оценка уже принята."})
	}

	rating, err := callback.ParseID(payload(uc, callback.ActionRating))
	if err != nil {
		return err
	}
	b.sessions.Update(tgID, func(s *wizard.Session) {
		s.Review.Rating = int(rating)
		s.Step = wizard.StepReviewComment
	})
	if err := uc.TC().Respond(&telebot.CallbackResponse{}); err != nil {
		uc.L().Errorf("responding to callback: %v", err)
	}
	return uc.TC().Send("Комментарий к отзыву (или «-», чтобы пропустить):")
}

func (b *Bot) reviewText(uc *UpdateContext, step wizard.Step, text string) error {
	if step == wizard.StepReviewRating {
		return uc.TC().Send("Выберите оценку кнопкой.")
	}

	tgID := uc.Sender().ID
	snap, ok := b.sessions.Snapshot(tgID)
	if !ok {
		return domain.ErrNotFound
	}
	if text == "-" {
		text = ""
	}

	if _, err := b.tenders.SubmitReview(uc, tgID, snap.Review.TenderID, snap.Review.Rating, text); err != nil {
		return err
	}
	b.sessions.Clear(tgID)
	return uc.TC().Send("Спасибо за отзыв!")
}
