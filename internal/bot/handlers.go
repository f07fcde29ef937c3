package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/wizard"
	"gopkg.in/telebot.v4"
)

const helpText = `Доступные команды:
/register — регистрация исполнителя
/add_tender — разместить тендер
/my_tenders — мои тендеры
/support — связаться с поддержкой
/help — эта справка`

const adminHelpText = helpText + `

Команды администратора:
/workers — заявки на модерацию
/tenders — список тендеров
/stats — статистика`

func (b *Bot) handleStart(uc *UpdateContext) error {
	user, err := b.userByTg(uc, uc.Sender().ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("looking up user: %w", err)
		}
		markup := &telebot.ReplyMarkup{}
		markup.Inline(markup.Row(markup.WebApp("Личный кабинет", &telebot.WebApp{URL: b.config.MiniAppBaseURL})))
		return uc.TC().Send(
			"Здравствуйте! Это бот подбора исполнителей для монтажных работ.\n\n"+
				"Чтобы получать подходящие тендеры, зарегистрируйтесь: /register",
			markup,
		)
	}

	switch user.Status {
	case models.UserStatusPendingModeration:
		return uc.TC().Send("Ваша заявка на рассмотрении. Мы сообщим, когда администратор её проверит.")
	case models.UserStatusBanned:
		return uc.TC().Send("Доступ к боту ограничен.")
	}

	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(markup.WebApp("Личный кабинет", &telebot.WebApp{URL: b.config.MiniAppBaseURL})))

	text := fmt.Sprintf("С возвращением, %s!\n\n", user.FullName)
	if b.isAdmin(uc.Sender().ID) {
		text += adminHelpText
	} else {
		text += helpText
	}
	return uc.TC().Send(text, markup)
}

func (b *Bot) handleHelp(uc *UpdateContext) error {
	if b.isAdmin(uc.Sender().ID) {
		return uc.TC().Send(adminHelpText)
	}
	return uc.TC().Send(helpText)
}

func (b *Bot) handleRegister(uc *UpdateContext) error {
	user, err := b.userByTg(uc, uc.Sender().ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("looking up user: %w", err)
	}
	if user != nil {
		switch user.Status {
		case models.UserStatusPendingModeration:
			return uc.TC().Send("Вы уже подали заявку, она на рассмотрении.")
		case models.UserStatusBanned:
			return uc.TC().Send("Доступ к боту ограничен.")
		default:
			return uc.TC().Send("Вы уже зарегистрированы.")
		}
	}

	b.sessions.Begin(uc.Sender().ID, wizard.StepRegFullName)
	return uc.TC().Send("Начнём регистрацию. Введите ФИО:")
}

// handleText routes free-form messages by the sender's wizard step.
func (b *Bot) handleText(uc *UpdateContext) error {
	step := b.sessions.Step(uc.Sender().ID)
	text := strings.TrimSpace(uc.TC().Text())

	switch step {
	case wizard.StepRegFullName, wizard.StepRegBirthDate, wizard.StepRegCity,
		wizard.StepRegPhone, wizard.StepRegSkills, wizard.StepRegDocuments,
		wizard.StepRegConfirm:
		return b.registrationText(uc, step, text)
	case wizard.StepTenderTitle, wizard.StepTenderCategory, wizard.StepTenderCity,
		wizard.StepTenderBudget, wizard.StepTenderDescription,
		wizard.StepTenderDeadline, wizard.StepTenderConfirm:
		return b.tenderText(uc, step, text)
	case wizard.StepReviewRating, wizard.StepReviewComment:
		return b.reviewText(uc, step, text)
	case wizard.StepSupportChat:
		return b.supportText(uc, text)
	}

	return uc.TC().Send("Не понимаю. Список команд: /help")
}

func (b *Bot) registrationText(uc *UpdateContext, step wizard.Step, text string) error {
	tgID := uc.Sender().ID

	switch step {
	case wizard.StepRegFullName:
		name, err := wizard.ValidateFullName(text)
		if err != nil {
			return err
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Registration.FullName = name
			s.Step = wizard.StepRegBirthDate
		})
		return uc.TC().Send("Дата рождения (ДД.ММ.ГГГГ):")

	case wizard.StepRegBirthDate:
		date, err := wizard.ParseBirthDate(text, time.Now())
		if err != nil {
			return err
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Registration.BirthDate = &date
			s.Step = wizard.StepRegCity
		})
		return uc.TC().Send("Город:")

	case wizard.StepRegCity:
		city, err := wizard.ValidateCity(text)
		if err != nil {
			return err
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Registration.City = city
			s.Step = wizard.StepRegPhone
		})
		return uc.TC().Send("Номер телефона (с кодом страны, например +7 999 123-45-67):")

	case wizard.StepRegPhone:
		phone, err := wizard.NormalizePhone(text)
		if err != nil {
			return err
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Registration.Phone = phone
			s.Step = wizard.StepRegSkills
		})
		return uc.TC().Send("Выберите ваши навыки:", b.skillsMarkup(nil))

	case wizard.StepRegSkills:
		return uc.TC().Send("Используйте кнопки, чтобы выбрать навыки.")

	case wizard.StepRegDocuments:
		return uc.TC().Send("Прикрепите файл (фото или PDF) или нажмите «Готово».", documentsMarkup())

	case wizard.StepRegConfirm:
		return uc.TC().Send("Используйте кнопки, чтобы отправить анкету или отменить регистрацию.")
	}

	return nil
}

// skillsMarkup renders the multi-select keyboard, one tag per row, selected
// tags marked.
func (b *Bot) skillsMarkup(selected []string) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	rows := make([][]telebot.InlineButton, 0, len(b.config.SkillTags)+1)
	for _, tag := range b.config.SkillTags {
		label := tag
		for _, s := range selected {
			if s == tag {
				label = "✅ " + tag
				break
			}
		}
		rows = append(rows, []telebot.InlineButton{{
			Text: label,
			Data: callback.ActionSkill.Encode(tag),
		}})
	}
	rows = append(rows, []telebot.InlineButton{{
		Text: "Готово ▶️",
		Data: callback.ActionSkill.Encode("done"),
	}})
	markup.InlineKeyboard = rows
	return markup
}

func documentsMarkup() *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{{{
		Text: "Готово ✅",
		Data: callback.ActionDocuments.Encode("done"),
	}}}
	return markup
}

func (b *Bot) onSkillToggle(uc *UpdateContext) error {
	tgID := uc.Sender().ID
	if b.sessions.Step(tgID) != wizard.StepRegSkills {
		return uc.TC().Respond(&telebot.CallbackResponse{Text: "Этот шаг уже пройден."})
	}

	tag := payload(uc, callback.ActionSkill)
	if tag == "done" {
		snap, _ := b.sessions.Snapshot(tgID)
		if len(snap.Registration.Skills) == 0 {
			return uc.TC().Respond(&telebot.CallbackResponse{Text: "Выберите хотя бы один навык.", ShowAlert: true})
		}
		b.sessions.Update(tgID, func(s *wizard.Session) {
			s.Step = wizard.StepRegDocuments
		})
		if err := uc.TC().Respond(&telebot.CallbackResponse{}); err != nil {
			uc.L().Errorf("responding to callback: %v", err)
		}
		return uc.TC().Send(
			"Прикрепите документы, подтверждающие квалификацию (фото или PDF), "+
				"или нажмите «Готово», чтобы пропустить.",
			documentsMarkup(),
		)
	}

	var skills []string
	b.sessions.Update(tgID, func(s *wizard.Session) {
		s.Registration.Skills = wizard.ToggleSkill(s.Registration.Skills, tag)
		skills = s.Registration.Skills
	})
	return uc.TC().Edit("Выберите ваши навыки:", b.skillsMarkup(skills))
}

func (b *Bot) handleDocument(uc *UpdateContext) error {
	if b.sessions.Step(uc.Sender().ID) != wizard.StepRegDocuments {
		return nil
	}
	doc := uc.Message().Document
	if doc == nil {
		return nil
	}
	if err := wizard.CheckDocument(doc.FileName, doc.MIME, doc.FileSize, b.config); err != nil {
		return err
	}
	return b.attachDocument(uc, models.Document{
		ID:       uuid.NewString(),
		Kind:     "document",
		FileID:   doc.FileID,
		FileName: doc.FileName,
		MimeType: doc.MIME,
		Size:     doc.FileSize,
	})
}

func (b *Bot) handlePhoto(uc *UpdateContext) error {
	if b.sessions.Step(uc.Sender().ID) != wizard.StepRegDocuments {
		return nil
	}
	photo := uc.Message().Photo
	if photo == nil {
		return nil
	}
	// Telegram re-encodes photos to JPEG, only the size bound applies.
	if err := wizard.CheckDocument("", "image/jpeg", photo.FileSize, b.config); err != nil {
		return err
	}
	return b.attachDocument(uc, models.Document{
		ID:       uuid.NewString(),
		Kind:     "photo",
		FileID:   photo.FileID,
		MimeType: "image/jpeg",
		Size:     photo.FileSize,
	})
}

func (b *Bot) attachDocument(uc *UpdateContext, doc models.Document) error {
	var total int
	b.sessions.Update(uc.Sender().ID, func(s *wizard.Session) {
		s.Registration.Documents = append(s.Registration.Documents, doc)
		total = len(s.Registration.Documents)
	})
	return uc.TC().Send(
		fmt.Sprintf("Файл принят (всего: %d). Можно добавить ещё или нажать «Готово».", total),
		documentsMarkup(),
	)
}

func (b *Bot) onDocumentsDone(uc *UpdateContext) error {
	tgID := uc.Sender().ID
	if b.sessions.Step(tgID) != wizard.StepRegDocuments {
		return uc.TC().Respond(&telebot.CallbackResponse{Text: "Этот шаг уже пройден."})
	}

	snap, ok := b.sessions.Snapshot(tgID)
	if !ok {
		return domain.ErrNotFound
	}
	b.sessions.Update(tgID, func(s *wizard.Session) {
		s.Step = wizard.StepRegConfirm
	})

	if err := uc.TC().Respond(&telebot.CallbackResponse{}); err != nil {
		uc.L().Errorf("responding to callback: %v", err)
	}
	return uc.TC().Send(registrationSummary(snap.Registration), regConfirmMarkup())
}

func regConfirmMarkup() *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{{
		{Text: "✅ Отправить", Data: callback.ActionRegConfirm.Encode("submit")},
		{Text: "❌ Отмена", Data: callback.ActionRegConfirm.Encode("cancel")},
	}}
	return markup
}

func registrationSummary(d wizard.RegistrationDraft) string {
	birth := "—"
	if d.BirthDate != nil {
		birth = d.BirthDate.Format("02.01.2006")
	}
	skills := strings.Join(d.Skills, ", ")
	return fmt.Sprintf(
		"Проверьте анкету:\n\nФИО: %s\nДата рождения: %s\nГород: %s\nТелефон: %s\nНавыки: %s\nДокументов: %d",
		d.FullName, birth, d.City, d.Phone, skills, len(d.Documents),
	)
}

func (b *Bot) onRegConfirm(uc *UpdateContext) error {
	tgID := uc.Sender().ID
	if b.sessions.Step(tgID) != wizard.StepRegConfirm {
		return uc.TC().Respond(&telebot.CallbackResponse{Text: "Этот шаг уже пройден."})
	}

	if payload(uc, callback.ActionRegConfirm) == "cancel" {
		b.sessions.Clear(tgID)
		return uc.TC().Edit("Регистрация отменена. Начать заново: /register")
	}

	snap, ok := b.sessions.Snapshot(tgID)
	if !ok {
		return domain.ErrNotFound
	}
	draft := snap.Registration

	user := &models.User{
		TgID:      tgID,
		Role:      models.UserRoleExecutor,
		Status:    models.UserStatusPendingModeration,
		FullName:  draft.FullName,
		City:      draft.City,
		Phone:     draft.Phone,
		BirthDate: draft.BirthDate,
		Skills:    draft.Skills,
		Documents: draft.Documents,
	}
	if err := b.storage.CreateUser(uc, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	b.sessions.Clear(tgID)

	uc.L().WithField("user_id", user.ID).Info("registration submitted")
	b.notifyModeration(uc, user)

	return uc.TC().Edit("Заявка отправлена на модерацию. Мы сообщим о результате.")
}

// notifyModeration sends the freshly submitted profile to the admin with the
// approve/reject pair. Best-effort: a failed delivery leaves the user
// reachable through /workers.
func (b *Bot) notifyModeration(uc *UpdateContext, user *models.User) {
	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{{
		{Text: "✅ Одобрить", Data: callback.ActionApprove.EncodeID(user.ID)},
		{Text: "❌ Отклонить", Data: callback.ActionReject.EncodeID(user.ID)},
	}}

	if _, err := uc.Bot().Send(&telebot.User{ID: b.config.AdminTgID}, profileCard(user), markup); err != nil {
		uc.L().Errorf("notifying admin about registration: %v", err)
	}
}

func profileCard(u *models.User) string {
	birth := "—"
	if u.BirthDate != nil {
		birth = u.BirthDate.Format("02.01.2006")
	}
	skills := strings.Join(u.Skills, ", ")
	if skills == "" {
		skills = "—"
	}
	return fmt.Sprintf(
		"🆕 Заявка на регистрацию #%d\n\nФИО: %s\nДата рождения: %s\nГород: %s\nТелефон: %s\nНавыки: %s\nДокументов: %d\nTG ID: %d",
		u.ID, u.FullName, birth, u.City, u.Phone, skills, len(u.Documents), u.TgID,
	)
}
