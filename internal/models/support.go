package models

import "time"

type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
)

type MessageAuthor string

const (
	MessageAuthorUser  MessageAuthor = "user"
	MessageAuthorAdmin MessageAuthor = "admin"
)

// SupportTicket is a help conversation thread. A closed ticket is never
// reused, a fresh one is created instead.
type SupportTicket struct {
	ID     uint         `gorm:"primaryKey"`
	UserID uint         `gorm:"not null;index"`
	Status TicketStatus `gorm:"size:32;not null;default:new"`

	User     *User            `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Messages []SupportMessage `gorm:"foreignKey:TicketID"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (t *SupportTicket) Closed() bool {
	return t.Status == TicketStatusClosed
}

// SupportMessage rows are append-only, ordered by creation time.
type SupportMessage struct {
	ID       uint          `gorm:"primaryKey"`
	TicketID uint          `gorm:"not null;index"`
	Author   MessageAuthor `gorm:"size:16;not null"`
	Text     string        `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}
