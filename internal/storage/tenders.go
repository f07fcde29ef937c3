package storage

import (
	"context"
	"fmt"

	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
)

func (s *Storage) CreateTender(ctx context.Context, tender *models.Tender) error {
	if err := s.db.WithContext(ctx).Create(tender).Error; err != nil {
		return fmt.Errorf("creating tender: %w", err)
	}
	return nil
}

func (s *Storage) GetTender(ctx context.Context, id uint) (*models.Tender, error) {
	var tender models.Tender
	if err := s.db.
		WithContext(ctx).
		Preload("Creator").
		Where("id = ?", id).
		First(&tender).
		Error; err != nil {
		return nil, fmt.Errorf("getting tender: %w", asDomain(err))
	}
	return &tender, nil
}

// TransitionTender performs a status-guarded conditional update. Zero rows
// affected means either the tender is gone or its current status is outside
// `from`; the guard is what serializes concurrent admin actions.
func (s *Storage) TransitionTender(ctx context.Context, id uint, from []models.TenderStatus, to models.TenderStatus) error {
	res := s.db.
		WithContext(ctx).
		Model(&models.Tender{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("transitioning tender: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Tender{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("checking tender existence: %w", err)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return fmt.Errorf("tender %d not in %v: %w", id, from, domain.ErrInvalidTransition)
	}
	return nil
}

func (s *Storage) ListTenders(ctx context.Context, status *models.TenderStatus, offset, limit int) ([]*models.Tender, error) {
	q := s.db.WithContext(ctx).Order("id DESC").Offset(offset).Limit(limit)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var tenders []*models.Tender
	if err := q.Find(&tenders).Error; err != nil {
		return nil, fmt.Errorf("listing tenders: %w", err)
	}
	return tenders, nil
}

// ListTendersByCreator returns every tender a customer owns, newest first.
func (s *Storage) ListTendersByCreator(ctx context.Context, creatorID uint) ([]*models.Tender, error) {
	var tenders []*models.Tender
	if err := s.db.
		WithContext(ctx).
		Where("created_by_user_id = ?", creatorID).
		Order("id DESC").
		Find(&tenders).
		Error; err != nil {
		return nil, fmt.Errorf("listing tenders by creator: %w", err)
	}
	return tenders, nil
}

// ListOpenTenders serves the Mini App feed: open tenders in a city,
// optionally narrowed to a category.
func (s *Storage) ListOpenTenders(ctx context.Context, city, category string, limit int) ([]*models.Tender, error) {
	q := s.db.
		WithContext(ctx).
		Where("status = ? AND city = ?", models.TenderStatusOpen, city).
		Order("id DESC").
		Limit(limit)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var tenders []*models.Tender
	if err := q.Find(&tenders).Error; err != nil {
		return nil, fmt.Errorf("listing open tenders: %w", err)
	}
	return tenders, nil
}
