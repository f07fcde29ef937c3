package storage

import (
	"context"
	"fmt"

	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"gorm.io/gorm/clause"
)

func (s *Storage) GetUserByTgID(ctx context.Context, tgID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("tg_id = ?", tgID).First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by tg id: %w", asDomain(err))
	}
	return &user, nil
}

func (s *Storage) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user: %w", asDomain(err))
	}
	return &user, nil
}

// CreateUser inserts the registration submission. The unique index on tg_id
// makes a concurrent double-submit a no-op reported as ErrAlreadyRegistered.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	res := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tg_id"}},
			DoNothing: true,
		}).
		Create(user)
	if res.Error != nil {
		return fmt.Errorf("creating user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyRegistered
	}
	return nil
}

func (s *Storage) UpdateUserStatus(ctx context.Context, id uint, status models.UserStatus) (*models.User, error) {
	if err := s.db.
		WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("status", status).
		Error; err != nil {
		return nil, fmt.Errorf("updating user status: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *Storage) UpdateUserProfile(ctx context.Context, id uint, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.
		WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(updates).
		Error; err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}
	return nil
}

func (s *Storage) ListUsers(ctx context.Context, status *models.UserStatus) ([]*models.User, error) {
	q := s.db.WithContext(ctx).Order("id")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var users []*models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// ListEligibleRecipients returns active users in the tender's city whose
// declared skills include its category. Roles and skills are filtered here
// because skills live in a JSON column.
func (s *Storage) ListEligibleRecipients(ctx context.Context, city, category string) ([]*models.User, error) {
	var inCity []*models.User
	if err := s.db.
		WithContext(ctx).
		Where("status = ? AND city = ?", models.UserStatusActive, city).
		Find(&inCity).
		Error; err != nil {
		return nil, fmt.Errorf("listing recipients: %w", err)
	}

	eligible := make([]*models.User, 0, len(inCity))
	for _, u := range inCity {
		if u.IsExecutor() && u.HasSkill(category) {
			eligible = append(eligible, u)
		}
	}
	return eligible, nil
}
