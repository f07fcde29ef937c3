package models

import "time"

// Review is a post-completion rating left by the tender owner for the
// selected executor. One review per application, the unique index makes a
// second attempt fail regardless of who rates.
type Review struct {
	ID            uint `gorm:"primaryKey"`
	TenderID      uint `gorm:"not null"`
	ApplicationID uint `gorm:"not null;uniqueIndex"`
	FromUserID    uint `gorm:"not null"`
	ToUserID      uint `gorm:"not null;index"`

	Rating  int    `gorm:"not null"`
	Comment string `gorm:"type:text"`

	Tender      *Tender            `gorm:"foreignKey:TenderID;constraint:OnDelete:CASCADE"`
	Application *TenderApplication `gorm:"foreignKey:ApplicationID;constraint:OnDelete:CASCADE"`
	FromUser    *User              `gorm:"foreignKey:FromUserID;constraint:OnDelete:CASCADE"`
	ToUser      *User              `gorm:"foreignKey:ToUserID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

const (
	RatingMin = 1
	RatingMax = 5
)

func ValidRating(r int) bool {
	return r >= RatingMin && r <= RatingMax
}
