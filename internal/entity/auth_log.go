package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuthAction string

const (
	ActionRegister       AuthAction = "register"
	ActionLoginSuccess   AuthAction = "login_success"
	ActionLoginFailed    AuthAction = "login_failed"
	ActionMFAChallenge   AuthAction = "mfa_challenge"
	ActionMFAFailed      AuthAction = "mfa_failed"
	ActionRefresh        AuthAction = "refresh"
	ActionRefreshFailed  AuthAction = "refresh_failed"
	ActionLogout         AuthAction = "logout"
	ActionSessionRevoked AuthAction = "session_revoked"
	ActionPasswordReset  AuthAction = "password_reset"
	ActionMFAChanged     AuthAction = "mfa_changed"
	ActionStatusChanged  AuthAction = "status_changed"
	ActionRoleChanged    AuthAction = "role_changed"
)

// AuthLog is an audit row. It is written on every attempt and never read back by the service.
type AuthLog struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`

	UserID *uuid.UUID `gorm:"type:uuid;index"`
	User   *User      `gorm:"constraint:OnDelete:SET NULL"`

	Email     string     `gorm:"type:varchar(255);index"`
	IPAddress *string    `gorm:"type:varchar(45)"`
	Action    AuthAction `gorm:"type:auth_action;not null"`
	Success   bool       `gorm:"not null"`
	Reason    string     `gorm:"type:varchar(100)"`

	Metadata datatypes.JSON

	CreatedAt time.Time
}
