package entity

import (
	"time"

	"github.com/google/uuid"
)

type TokenType string

const TokenTypeRefresh TokenType = "refresh"

// Session is one refresh-token lineage. Only the SHA-256 of the token is stored.
type Session struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	TokenHash string    `gorm:"type:text;not null;uniqueIndex"`
	TokenType TokenType `gorm:"type:varchar(16);not null;default:'refresh'"`

	DeviceName string  `gorm:"type:varchar(100)"`
	DeviceID   string  `gorm:"type:varchar(255)"`
	IPAddress  *string `gorm:"type:varchar(45)"`
	UserAgent  *string `gorm:"type:text"`

	Active    bool `gorm:"not null;default:true;index"`
	ExpiresAt time.Time
	RevokedAt *time.Time

	CreatedAt time.Time
}

func (s *Session) Usable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
