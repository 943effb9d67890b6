package service

import (
	"errors"
	"time"

	"nutrihub/internal/entity"
	"nutrihub/internal/utils"
)

type JWTAccessIssuer struct {
	Manager *utils.JWTManager
}

func (j JWTAccessIssuer) IssueAccessToken(user entity.User) (string, time.Duration, error) {
	if j.Manager == nil {
		return "", 0, errors.New("jwt manager not configured")
	}
	return j.Manager.IssueAccessToken(user.ID.String(), user.Email, string(user.Role))
}

func (j JWTAccessIssuer) VerifyAccessToken(token string) (*utils.AccessClaims, error) {
	if j.Manager == nil {
		return nil, ErrTokenMalformed
	}
	return j.Manager.ParseAccessToken(token)
}
