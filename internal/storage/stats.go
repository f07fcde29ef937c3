package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/tbmatch/tenderbot/internal/models"
)

type RoleStatusCount struct {
	Role   models.UserRole
	Status models.UserStatus
	Count  int64
}

type StatusCount struct {
	Status models.TenderStatus
	Count  int64
}

// Stats backs the admin /stats command and the web dashboard.
type Stats struct {
	UsersTotal   int64
	UsersByGroup []RoleStatusCount

	TendersTotal     int64
	TendersByStatus  []StatusCount
	ApplicationsDay  int64
	ApplicationsWeek int64
}

func (s *Storage) CollectStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}

	db := s.db.WithContext(ctx)

	if err := db.Model(&models.User{}).Count(&stats.UsersTotal).Error; err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	if err := db.
		Model(&models.User{}).
		Select("role, status, COUNT(id) AS count").
		Group("role, status").
		Scan(&stats.UsersByGroup).
		Error; err != nil {
		return nil, fmt.Errorf("grouping users: %w", err)
	}

	if err := db.Model(&models.Tender{}).Count(&stats.TendersTotal).Error; err != nil {
		return nil, fmt.Errorf("counting tenders: %w", err)
	}
	if err := db.
		Model(&models.Tender{}).
		Select("status, COUNT(id) AS count").
		Group("status").
		Scan(&stats.TendersByStatus).
		Error; err != nil {
		return nil, fmt.Errorf("grouping tenders: %w", err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekAgo := today.AddDate(0, 0, -7)

	if err := db.
		Model(&models.TenderApplication{}).
		Where("created_at >= ?", today).
		Count(&stats.ApplicationsDay).
		Error; err != nil {
		return nil, fmt.Errorf("counting today's applications: %w", err)
	}
	if err := db.
		Model(&models.TenderApplication{}).
		Where("created_at >= ?", weekAgo).
		Count(&stats.ApplicationsWeek).
		Error; err != nil {
		return nil, fmt.Errorf("counting week's applications: %w", err)
	}

	return stats, nil
}
