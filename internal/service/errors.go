package service

import (
	"errors"
	"fmt"

	"nutrihub/internal/utils"
)

var (
	ErrValidationFailed    = errors.New("validation failed")
	ErrUserExists          = errors.New("user already exists")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountInactive     = errors.New("account is not active")
	ErrMFAInvalidOrExpired = errors.New("mfa code is invalid or expired")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrTooManyAttempts     = errors.New("too many failed login attempts")
	ErrUserNotFound        = errors.New("user not found")
	ErrStorageFailure      = errors.New("storage failure")
	ErrMailerNotConfigured = errors.New("mailer not configured")

	ErrTokenExpired   = utils.ErrTokenExpired
	ErrTokenMalformed = utils.ErrTokenMalformed
)

func storageError(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageFailure, err)
}
