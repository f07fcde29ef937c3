package models

import "time"

type ApplicationStatus string

const (
	ApplicationStatusApplied  ApplicationStatus = "applied"
	ApplicationStatusSelected ApplicationStatus = "selected"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// TenderApplication is an executor's bid. At most one row exists per
// (tender, user) pair, enforced by the unique index.
type TenderApplication struct {
	ID       uint `gorm:"primaryKey"`
	TenderID uint `gorm:"not null;uniqueIndex:idx_tender_user"`
	UserID   uint `gorm:"not null;uniqueIndex:idx_tender_user"`

	Status ApplicationStatus `gorm:"size:32;not null;default:applied"`

	Tender *Tender `gorm:"foreignKey:TenderID;constraint:OnDelete:CASCADE"`
	User   *User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
