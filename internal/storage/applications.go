package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateApplication creates a bid for tenderID by userID. The tender row is
// locked and its status plus deadline re-checked inside the transaction, so
// an apply racing a publish/close cannot slip past a stale read. The unique
// (tender_id, user_id) index backs up the duplicate check.
func (s *Storage) CreateApplication(ctx context.Context, tenderID, userID uint, now time.Time) (*models.TenderApplication, error) {
	app := &models.TenderApplication{
		TenderID: tenderID,
		UserID:   userID,
		Status:   models.ApplicationStatusApplied,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tender models.Tender
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tenderID).
			First(&tender).
			Error; err != nil {
			return asDomain(err)
		}
		if tender.Status != models.TenderStatusOpen {
			return domain.ErrTenderNotOpen
		}
		if tender.DeadlinePassed(now) {
			return domain.ErrDeadlinePassed
		}

		var existing int64
		if err := tx.
			Model(&models.TenderApplication{}).
			Where("tender_id = ? AND user_id = ?", tenderID, userID).
			Count(&existing).
			Error; err != nil {
			return fmt.Errorf("checking existing application: %w", err)
		}
		if existing > 0 {
			return domain.ErrAlreadyApplied
		}

		if err := tx.Create(app).Error; err != nil {
			return fmt.Errorf("creating application: %w", err)
		}
		return nil
	}); err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("in tx: %w", err)
	}

	return app, nil
}

// SelectionResult is the outcome of picking a winner: the selected
// application and every sibling that was rejected in the same transaction.
type SelectionResult struct {
	Selected *models.TenderApplication
	Rejected []*models.TenderApplication
}

// SelectApplication atomically marks one application selected, moves the
// tender to in_progress and rejects all siblings. The tender transition is a
// status-guarded update: if the tender is no longer open the whole operation
// fails with ErrTenderNotOpen, which keeps "at most one selected" a hard
// invariant under concurrent admin action.
func (s *Storage) SelectApplication(ctx context.Context, appID uint) (*SelectionResult, error) {
	result := &SelectionResult{}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app models.TenderApplication
		if err := tx.
			Preload("User").
			Preload("Tender").
			Where("id = ?", appID).
			First(&app).
			Error; err != nil {
			return asDomain(err)
		}

		res := tx.
			Model(&models.Tender{}).
			Where("id = ? AND status = ?", app.TenderID, models.TenderStatusOpen).
			Update("status", models.TenderStatusInProgress)
		if res.Error != nil {
			return fmt.Errorf("transitioning tender: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrTenderNotOpen
		}

		if err := tx.
			Model(&models.TenderApplication{}).
			Where("id = ?", app.ID).
			Update("status", models.ApplicationStatusSelected).
			Error; err != nil {
			return fmt.Errorf("selecting application: %w", err)
		}
		app.Status = models.ApplicationStatusSelected
		if app.Tender != nil {
			app.Tender.Status = models.TenderStatusInProgress
		}

		var siblings []*models.TenderApplication
		if err := tx.
			Preload("User").
			Where("tender_id = ? AND id <> ?", app.TenderID, app.ID).
			Find(&siblings).
			Error; err != nil {
			return fmt.Errorf("loading sibling applications: %w", err)
		}
		if len(siblings) > 0 {
			if err := tx.
				Model(&models.TenderApplication{}).
				Where("tender_id = ? AND id <> ?", app.TenderID, app.ID).
				Update("status", models.ApplicationStatusRejected).
				Error; err != nil {
				return fmt.Errorf("rejecting sibling applications: %w", err)
			}
			for _, sib := range siblings {
				sib.Status = models.ApplicationStatusRejected
			}
		}

		result.Selected = &app
		result.Rejected = siblings
		return nil
	}); err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("in tx: %w", err)
	}

	return result, nil
}

func (s *Storage) GetApplication(ctx context.Context, id uint) (*models.TenderApplication, error) {
	var app models.TenderApplication
	if err := s.db.
		WithContext(ctx).
		Preload("User").
		Preload("Tender").
		Preload("Tender.Creator").
		Where("id = ?", id).
		First(&app).
		Error; err != nil {
		return nil, fmt.Errorf("getting application: %w", asDomain(err))
	}
	return &app, nil
}

func (s *Storage) GetApplicationForUser(ctx context.Context, tenderID, userID uint) (*models.TenderApplication, error) {
	var app models.TenderApplication
	if err := s.db.
		WithContext(ctx).
		Where("tender_id = ? AND user_id = ?", tenderID, userID).
		First(&app).
		Error; err != nil {
		return nil, fmt.Errorf("getting application for user: %w", asDomain(err))
	}
	return &app, nil
}

func (s *Storage) GetSelectedApplication(ctx context.Context, tenderID uint) (*models.TenderApplication, error) {
	var app models.TenderApplication
	if err := s.db.
		WithContext(ctx).
		Preload("User").
		Where("tender_id = ? AND status = ?", tenderID, models.ApplicationStatusSelected).
		First(&app).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNoSelectedBid
		}
		return nil, fmt.Errorf("getting selected application: %w", err)
	}
	return &app, nil
}

// ListApplications feeds the admin panel: every bid with its executor and
// tender attached, optionally narrowed to one tender.
func (s *Storage) ListApplications(ctx context.Context, tenderID *uint) ([]*models.TenderApplication, error) {
	q := s.db.
		WithContext(ctx).
		Preload("User").
		Preload("Tender").
		Order("id DESC")
	if tenderID != nil {
		q = q.Where("tender_id = ?", *tenderID)
	}
	var apps []*models.TenderApplication
	if err := q.Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	return apps, nil
}

func (s *Storage) ListUserApplications(ctx context.Context, userID uint) ([]*models.TenderApplication, error) {
	var apps []*models.TenderApplication
	if err := s.db.
		WithContext(ctx).
		Preload("Tender").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&apps).
		Error; err != nil {
		return nil, fmt.Errorf("listing user applications: %w", err)
	}
	return apps, nil
}

// isDomainErr keeps sentinel errors unwrapped through the transaction layer.
func isDomainErr(err error) bool {
	return domain.Code(err) != "INTERNAL"
}
