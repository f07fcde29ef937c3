package tender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tbmatch/tenderbot/internal/callback"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/notify"
	"github.com/tbmatch/tenderbot/internal/storage"
)

// Storage is the persistence surface of the tender lifecycle. Every method
// that mutates tender state re-checks the current status inside its own
// transaction (see the storage package), the service composes authorization
// and notification around those guarded primitives.
type Storage interface {
	GetUserByTgID(ctx context.Context, tgID int64) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)

	CreateTender(ctx context.Context, tender *models.Tender) error
	GetTender(ctx context.Context, id uint) (*models.Tender, error)
	TransitionTender(ctx context.Context, id uint, from []models.TenderStatus, to models.TenderStatus) error

	CreateApplication(ctx context.Context, tenderID, userID uint, now time.Time) (*models.TenderApplication, error)
	SelectApplication(ctx context.Context, appID uint) (*storage.SelectionResult, error)
	GetApplication(ctx context.Context, id uint) (*models.TenderApplication, error)
	GetSelectedApplication(ctx context.Context, tenderID uint) (*models.TenderApplication, error)

	CreateReview(ctx context.Context, review *models.Review) error
	HasReview(ctx context.Context, applicationID uint) (bool, error)
	ExecutorRating(ctx context.Context, userID uint) (float64, int64, error)

	ListEligibleRecipients(ctx context.Context, city, category string) ([]*models.User, error)
}

type Service struct {
	cfg      *config.Config
	storage  Storage
	notifier notify.Notifier

	// now is swapped in tests to pin deadline comparisons.
	now func() time.Time
}

func New(cfg *config.Config, storage Storage, notifier notify.Notifier) *Service {
	return &Service{
		cfg:      cfg,
		storage:  storage,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *Service) isAdmin(tgID int64) bool {
	return tgID == s.cfg.AdminTgID
}

func isOwner(user *models.User, tender *models.Tender) bool {
	return user != nil && tender.CreatedByUserID != nil && *tender.CreatedByUserID == user.ID
}

// authorize allows the admin or the tender's owner, everyone else gets
// ErrPermissionDenied.
func (s *Service) authorize(ctx context.Context, actorTgID int64, tender *models.Tender) error {
	if s.isAdmin(actorTgID) {
		return nil
	}
	user, err := s.storage.GetUserByTgID(ctx, actorTgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrPermissionDenied
		}
		return err
	}
	if !isOwner(user, tender) {
		return domain.ErrPermissionDenied
	}
	return nil
}

type CreateInput struct {
	Title       string
	Category    string
	City        string
	Budget      string
	Description string
	Deadline    *time.Time
}

func (in *CreateInput) validate() error {
	for field, v := range map[string]string{
		"title":       in.Title,
		"category":    in.Category,
		"city":        in.City,
		"description": in.Description,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required: %w", field, domain.ErrInvalidInput)
		}
	}
	return nil
}

// Create stores a new tender in draft. Admins may always create; everyone
// else must be an approved customer.
func (s *Service) Create(ctx context.Context, actorTgID int64, in CreateInput) (*models.Tender, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	user, err := s.storage.GetUserByTgID(ctx, actorTgID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if !s.isAdmin(actorTgID) {
		if user == nil || user.Status != models.UserStatusActive || !user.IsCustomer() {
			return nil, domain.ErrPermissionDenied
		}
	}

	tender := &models.Tender{
		Title:         strings.TrimSpace(in.Title),
		Category:      in.Category,
		City:          strings.TrimSpace(in.City),
		Budget:        strings.TrimSpace(in.Budget),
		Description:   strings.TrimSpace(in.Description),
		Deadline:      in.Deadline,
		Status:        models.TenderStatusDraft,
		CreatedByTgID: actorTgID,
	}
	if user != nil {
		tender.CreatedByUserID = &user.ID
	}

	if err := s.storage.CreateTender(ctx, tender); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"tender_id": tender.ID,
		"actor":     actorTgID,
	}).Info("tender created as draft")

	return tender, nil
}

type PublishResult struct {
	Tender   *models.Tender
	Eligible int
	Sent     int
}

// Publish moves a draft to open and fans the summary out to every eligible
// executor. A tender past draft is reported as already published and never
// re-dispatched.
func (s *Service) Publish(ctx context.Context, actorTgID int64, tenderID uint) (*PublishResult, error) {
	tender, err := s.storage.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorTgID, tender); err != nil {
		return nil, err
	}
	if tender.Status != models.TenderStatusDraft {
		return nil, domain.ErrAlreadyPublished
	}

	err = s.storage.TransitionTender(ctx, tenderID,
		[]models.TenderStatus{models.TenderStatusDraft}, models.TenderStatusOpen)
	if err != nil {
		// A concurrent publish won the guard; same user-visible outcome.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, domain.ErrAlreadyPublished
		}
		return nil, err
	}
	tender.Status = models.TenderStatusOpen

	sent, eligible := s.broadcast(ctx, tender)

	logrus.WithFields(logrus.Fields{
		"tender_id": tender.ID,
		"eligible":  eligible,
		"sent":      sent,
	}).Info("tender published")

	return &PublishResult{Tender: tender, Eligible: eligible, Sent: sent}, nil
}

// Apply records an executor's bid on an open tender. Status and deadline are
// re-verified inside the storage transaction, so a racing publish/close
// cannot be outrun.
func (s *Service) Apply(ctx context.Context, actorTgID int64, tenderID uint) (*models.TenderApplication, error) {
	user, err := s.storage.GetUserByTgID(ctx, actorTgID)
	if err != nil {
		return nil, err
	}
	if user.Status != models.UserStatusActive || !user.IsExecutor() {
		return nil, domain.ErrNotEligible
	}

	app, err := s.storage.CreateApplication(ctx, tenderID, user.ID, s.now())
	if err != nil {
		return nil, err
	}
	app.User = user

	tender, err := s.storage.GetTender(ctx, tenderID)
	if err != nil {
		logrus.Errorf("loading tender after apply: %v", err)
		return app, nil
	}
	app.Tender = tender

	s.notifyNewApplication(ctx, tender, app, user)

	return app, nil
}

// notifyNewApplication tells the admin (and the owner, when distinct) about
// a fresh bid, attaching the executor's profile and a select button.
// Delivery failures are logged and swallowed.
func (s *Service) notifyNewApplication(ctx context.Context, tender *models.Tender, app *models.TenderApplication, user *models.User) {
	avg, count, err := s.storage.ExecutorRating(ctx, user.ID)
	if err != nil {
		logrus.Errorf("querying executor rating: %v", err)
	}

	msg := notify.Message{
		Text: applicationNotice(tender, user, avg, count),
		Buttons: [][]notify.Button{{{
			Label: "✅ Выбрать исполнителя",
			Data:  callback.ActionSelect.EncodeID(app.ID),
		}}},
	}

	if err := s.notifier.Send(ctx, s.cfg.AdminTgID, msg); err != nil {
		logrus.Errorf("notifying admin about application %d: %v", app.ID, err)
	}
	if tender.Creator != nil && tender.Creator.TgID != s.cfg.AdminTgID {
		if err := s.notifier.Send(ctx, tender.Creator.TgID, msg); err != nil {
			logrus.Errorf("notifying owner about application %d: %v", app.ID, err)
		}
	}
}

// SelectApplicant picks the winner: the application becomes selected, the
// tender moves to in_progress and every sibling bid is rejected, all in one
// guarded transaction. Each rejected applicant is notified.
func (s *Service) SelectApplicant(ctx context.Context, actorTgID int64, applicationID uint) (*storage.SelectionResult, error) {
	app, err := s.storage.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Tender == nil {
		return nil, fmt.Errorf("application %d has no tender: %w", applicationID, domain.ErrNotFound)
	}
	if err := s.authorize(ctx, actorTgID, app.Tender); err != nil {
		return nil, err
	}

	res, err := s.storage.SelectApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	title := app.Tender.Title
	if res.Selected.User != nil {
		err := s.notifier.Send(ctx, res.Selected.User.TgID, notify.Message{
			Text: fmt.Sprintf(
				"🎉 Вас выбрали исполнителем по тендеру «%s». Свяжитесь с заказчиком для уточнения деталей.", title),
		})
		if err != nil {
			logrus.Errorf("notifying selected executor: %v", err)
		}
	}
	for _, rej := range res.Rejected {
		if rej.User == nil {
			continue
		}
		err := s.notifier.Send(ctx, rej.User.TgID, notify.Message{
			Text: fmt.Sprintf("По тендеру «%s» выбран другой исполнитель. Спасибо за отклик!", title),
		})
		if err != nil {
			logrus.Errorf("notifying rejected executor %d: %v", rej.UserID, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"application_id": applicationID,
		"tender_id":      app.TenderID,
		"rejected":       len(res.Rejected),
	}).Info("executor selected")

	return res, nil
}

type CloseResult struct {
	Tender *models.Tender
	// ReviewPrompted is set when the owner was offered to rate the selected
	// executor.
	ReviewPrompted bool
}

// Close moves an open or in-progress tender to closed and, when a selected
// application exists, prompts the owner for a review.
func (s *Service) Close(ctx context.Context, actorTgID int64, tenderID uint) (*CloseResult, error) {
	tender, err := s.storage.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorTgID, tender); err != nil {
		return nil, err
	}

	err = s.storage.TransitionTender(ctx, tenderID,
		[]models.TenderStatus{models.TenderStatusOpen, models.TenderStatusInProgress},
		models.TenderStatusClosed)
	if err != nil {
		return nil, err
	}
	tender.Status = models.TenderStatusClosed

	result := &CloseResult{Tender: tender}

	if _, err := s.storage.GetSelectedApplication(ctx, tenderID); err == nil {
		if tender.Creator != nil {
			err := s.notifier.Send(ctx, tender.Creator.TgID, notify.Message{
				Text: fmt.Sprintf("Тендер «%s» закрыт. Оцените работу исполнителя?", tender.Title),
				Buttons: [][]notify.Button{{{
					Label: "Оценить исполнителя",
					Data:  callback.ActionRate.EncodeID(tender.ID),
				}}},
			})
			if err != nil {
				logrus.Errorf("sending review prompt: %v", err)
			} else {
				result.ReviewPrompted = true
			}
		}
	} else if !errors.Is(err, domain.ErrNoSelectedBid) {
		logrus.Errorf("checking selected application: %v", err)
	}

	return result, nil
}

// Cancel voids a tender from draft, open or in_progress. No fan-out beyond
// the acknowledgment.
func (s *Service) Cancel(ctx context.Context, actorTgID int64, tenderID uint) (*models.Tender, error) {
	tender, err := s.storage.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorTgID, tender); err != nil {
		return nil, err
	}

	err = s.storage.TransitionTender(ctx, tenderID,
		[]models.TenderStatus{models.TenderStatusDraft, models.TenderStatusOpen, models.TenderStatusInProgress},
		models.TenderStatusCancelled)
	if err != nil {
		return nil, err
	}
	tender.Status = models.TenderStatusCancelled
	return tender, nil
}

// Summary renders the broadcast text for a tender.
func Summary(t *models.Tender) string {
	budget := t.Budget
	if budget == "" {
		budget = "не указан"
	}
	return fmt.Sprintf(
		"📋 Тендер: %s\nКатегория: %s\nГород: %s\nБюджет: %s\n\n%s",
		t.Title, t.Category, t.City, budget, t.Description,
	)
}

func applicationNotice(t *models.Tender, u *models.User, avgRating float64, ratingCount int64) string {
	skills := strings.Join(u.Skills, ", ")
	if skills == "" {
		skills = "—"
	}
	text := fmt.Sprintf(
		"📩 Отклик на тендер «%s»\n\nМастер:\nФИО: %s\nГород: %s\nТелефон: %s\nНавыки: %s\nTG ID: %d",
		t.Title, u.FullName, u.City, u.Phone, skills, u.TgID,
	)
	if ratingCount > 0 {
		text += fmt.Sprintf("\nРейтинг: ★ %.1f (отзывов: %d)", avgRating, ratingCount)
	}
	return text
}
