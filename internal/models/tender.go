package models

import (
	"fmt"
	"time"
)

type TenderStatus string

const (
	TenderStatusDraft      TenderStatus = "draft"
	TenderStatusOpen       TenderStatus = "open"
	TenderStatusInProgress TenderStatus = "in_progress"
	TenderStatusClosed     TenderStatus = "closed"
	TenderStatusCancelled  TenderStatus = "cancelled"
)

// tenderTransitions lists the allowed forward moves. closed and cancelled
// are terminal, nothing ever reopens a tender.
var tenderTransitions = map[TenderStatus][]TenderStatus{
	TenderStatusDraft:      {TenderStatusOpen, TenderStatusCancelled},
	TenderStatusOpen:       {TenderStatusInProgress, TenderStatusClosed, TenderStatusCancelled},
	TenderStatusInProgress: {TenderStatusClosed, TenderStatusCancelled},
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s TenderStatus) CanTransitionTo(next TenderStatus) bool {
	for _, allowed := range tenderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TenderStatus) Terminal() bool {
	return len(tenderTransitions[s]) == 0
}

type Tender struct {
	ID uint `gorm:"primaryKey"`

	Title       string       `gorm:"size:256;not null"`
	Category    string       `gorm:"size:128;not null"`
	City        string       `gorm:"size:128;not null"`
	Budget      string       `gorm:"size:128"`
	Description string       `gorm:"type:text;not null"`
	Status      TenderStatus `gorm:"size:32;not null;default:draft"`
	Deadline    *time.Time

	// CreatedByUserID is nullable: the owning user may be deleted.
	// CreatedByTgID stays behind as an immutable audit trail.
	CreatedByUserID *uint `gorm:"constraint:OnDelete:SET NULL"`
	CreatedByTgID   int64

	Creator *User `gorm:"foreignKey:CreatedByUserID"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (t *Tender) String() string {
	return fmt.Sprintf("Tender(#%d %q, %s, %s)", t.ID, t.Title, t.City, t.Status)
}

// DeadlineUTC returns the application deadline normalized to UTC, or nil if
// none is set.
func (t *Tender) DeadlineUTC() *time.Time {
	if t.Deadline == nil {
		return nil
	}
	d := NormalizeUTC(*t.Deadline)
	return &d
}

// DeadlinePassed reports whether applications are no longer accepted at now.
func (t *Tender) DeadlinePassed(now time.Time) bool {
	d := t.DeadlineUTC()
	return d != nil && now.UTC().After(*d)
}

// NormalizeUTC brings a timestamp to UTC for deadline comparison. Postgres
// timestamp-without-time-zone values come back from the driver in time.Local,
// those wall clocks are reinterpreted as UTC rather than converted. Values
// carrying an explicit offset are converted.
func NormalizeUTC(t time.Time) time.Time {
	if t.Location() == time.Local {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	return t.UTC()
}
