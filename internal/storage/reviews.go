package storage

import (
	"context"
	"fmt"

	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"gorm.io/gorm/clause"
)

// CreateReview inserts a post-completion rating. The unique index on
// application_id turns a second attempt, by any rater, into
// ErrAlreadyReviewed.
func (s *Storage) CreateReview(ctx context.Context, review *models.Review) error {
	res := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "application_id"}},
			DoNothing: true,
		}).
		Create(review)
	if res.Error != nil {
		return fmt.Errorf("creating review: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyReviewed
	}
	return nil
}

func (s *Storage) HasReview(ctx context.Context, applicationID uint) (bool, error) {
	var count int64
	if err := s.db.
		WithContext(ctx).
		Model(&models.Review{}).
		Where("application_id = ?", applicationID).
		Count(&count).
		Error; err != nil {
		return false, fmt.Errorf("checking review: %w", err)
	}
	return count > 0, nil
}

func (s *Storage) ListReviews(ctx context.Context) ([]*models.Review, error) {
	var reviews []*models.Review
	if err := s.db.
		WithContext(ctx).
		Preload("FromUser").
		Preload("ToUser").
		Order("id DESC").
		Find(&reviews).
		Error; err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	return reviews, nil
}

// ExecutorRating returns the average rating and review count for a user.
func (s *Storage) ExecutorRating(ctx context.Context, userID uint) (float64, int64, error) {
	var row struct {
		Avg   float64
		Count int64
	}
	if err := s.db.
		WithContext(ctx).
		Model(&models.Review{}).
		Select("COALESCE(AVG(rating), 0) AS avg, COUNT(id) AS count").
		Where("to_user_id = ?", userID).
		Scan(&row).
		Error; err != nil {
		return 0, 0, fmt.Errorf("querying executor rating: %w", err)
	}
	return row.Avg, row.Count, nil
}
