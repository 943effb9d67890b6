package entity

import (
	"time"

	"github.com/google/uuid"
)

type MFAChallenge struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index:idx_mfa_challenges_user_created,priority:1"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	CodeHash  string `gorm:"type:text;not null"`
	ExpiresAt time.Time

	Consumed   bool `gorm:"not null;default:false"`
	ConsumedAt *time.Time

	CreatedAt time.Time `gorm:"index:idx_mfa_challenges_user_created,priority:2"`
}

func (c *MFAChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
