package moderation

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tbmatch/tenderbot/internal/cache"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"github.com/tbmatch/tenderbot/internal/notify"
)

type Storage interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	UpdateUserStatus(ctx context.Context, id uint, status models.UserStatus) (*models.User, error)
}

// Service gates newly registered users. Approve/Reject are single status
// writes plus a notification; neither reverses through the same action.
// Status edits after the fact go through the web panel's ban/unban path.
type Service struct {
	cfg      *config.Config
	storage  Storage
	notifier notify.Notifier
	cache    *cache.Cache
}

func New(cfg *config.Config, storage Storage, notifier notify.Notifier, cache *cache.Cache) *Service {
	return &Service{cfg: cfg, storage: storage, notifier: notifier, cache: cache}
}

func (s *Service) Approve(ctx context.Context, actorTgID int64, userID uint) (*models.User, error) {
	return s.moderate(ctx, actorTgID, userID, models.UserStatusActive,
		"Ваша заявка одобрена. Теперь вы будете получать уведомления о подходящих тендерах.")
}

func (s *Service) Reject(ctx context.Context, actorTgID int64, userID uint) (*models.User, error) {
	return s.moderate(ctx, actorTgID, userID, models.UserStatusBanned,
		"К сожалению, ваша заявка отклонена.")
}

// Ban and Unban are the web panel's edits to an already moderated user.
func (s *Service) Ban(ctx context.Context, actorTgID int64, userID uint) (*models.User, error) {
	return s.moderate(ctx, actorTgID, userID, models.UserStatusBanned,
		"Доступ к боту ограничен администратором.")
}

func (s *Service) Unban(ctx context.Context, actorTgID int64, userID uint) (*models.User, error) {
	return s.moderate(ctx, actorTgID, userID, models.UserStatusActive,
		"Доступ к боту восстановлен.")
}

func (s *Service) moderate(ctx context.Context, actorTgID int64, userID uint, status models.UserStatus, notice string) (*models.User, error) {
	if actorTgID != s.cfg.AdminTgID {
		return nil, domain.ErrPermissionDenied
	}

	user, err := s.storage.UpdateUserStatus(ctx, userID, status)
	if err != nil {
		return nil, err
	}

	// The profile cache mirrors the User row; every write invalidates it.
	if s.cache != nil {
		s.cache.Delete(cache.UserKey(user.TgID))
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"status":  status,
	}).Info("user moderated")

	if err := s.notifier.Send(ctx, user.TgID, notify.Message{Text: notice}); err != nil {
		logrus.Errorf("notifying user %d about moderation: %v", userID, err)
	}

	return user, nil
}
