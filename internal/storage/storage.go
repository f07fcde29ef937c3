package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbmatch/tenderbot/internal/domain"
	"github.com/tbmatch/tenderbot/internal/models"
	"gorm.io/gorm"
)

type Storage struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&models.User{},
		&models.Tender{},
		&models.TenderApplication{},
		&models.Review{},
		&models.SupportTicket{},
		&models.SupportMessage{},
	); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// asDomain maps gorm's not-found onto the domain sentinel so callers never
// import gorm for error checks.
func asDomain(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
