package models

import (
	"slices"
	"time"
)

type UserStatus string

const (
	UserStatusPendingModeration UserStatus = "pending_moderation"
	UserStatusActive            UserStatus = "active"
	UserStatusBanned            UserStatus = "banned"
)

type UserRole string

const (
	UserRoleExecutor UserRole = "executor"
	UserRoleCustomer UserRole = "customer"
	UserRoleBoth     UserRole = "both"
)

// Document is an opaque reference to an attachment uploaded during
// registration. The file itself stays on Telegram's side, FileID is enough
// to fetch it back.
type Document struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type User struct {
	ID   uint  `gorm:"primaryKey"`
	TgID int64 `gorm:"uniqueIndex;not null"`

	Role     UserRole   `gorm:"size:32;default:executor"`
	Status   UserStatus `gorm:"size:32;not null;default:pending_moderation"`
	FullName string     `gorm:"size:256;not null"`
	City     string     `gorm:"size:128;not null"`
	Phone    string     `gorm:"size:64;not null"`

	BirthDate *time.Time

	Skills    []string   `gorm:"type:jsonb;serializer:json"`
	Documents []Document `gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// IsExecutor reports whether the user offers services.
func (u *User) IsExecutor() bool {
	return u.Role == UserRoleExecutor || u.Role == UserRoleBoth
}

// IsCustomer reports whether the user may post tenders.
func (u *User) IsCustomer() bool {
	return u.Role == UserRoleCustomer || u.Role == UserRoleBoth
}

func (u *User) HasSkill(tag string) bool {
	return slices.Contains(u.Skills, tag)
}
