package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser         Role = "user"
	RoleNutritionist Role = "nutritionist"
	RoleAdmin        Role = "admin"
)

// ParseRole returns false for anything outside the known role set.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleNutritionist, RoleAdmin:
		return true
	default:
		return false
	}
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusSuspended:
		return true
	default:
		return false
	}
}

type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string     `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string     `gorm:"type:text;not null"`
	Name         string     `gorm:"type:varchar(120)"`
	Role         Role       `gorm:"type:user_role;default:'user';not null"`
	Status       UserStatus `gorm:"type:user_status;default:'active';not null"`
	MFAEnabled   bool       `gorm:"not null;default:false"`

	LastLoginAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Sessions []Session
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
