package service

import (
	"context"
	"time"

	"nutrihub/internal/entity"
	"nutrihub/internal/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minBcryptCost = 10

type AuthConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	MFAChallengeTTL time.Duration
	ResetTokenTTL   time.Duration
	AppBaseURL      string
}

// Mailer delivers plain-text mail out of band.
type Mailer interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash string, password string) bool
}

type AccessTokenIssuer interface {
	IssueAccessToken(user entity.User) (string, time.Duration, error)
	VerifyAccessToken(token string) (*utils.AccessClaims, error)
}

type ChallengeManager interface {
	Issue(ctx context.Context, userID uuid.UUID) (string, error)
	Verify(ctx context.Context, userID uuid.UUID, code string) (bool, error)
	TTL() time.Duration
}

// LoginLimiter counts failed attempts per normalised e-mail.
type LoginLimiter interface {
	Locked(ctx context.Context, key string) (bool, error)
	RecordFailure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

type BcryptPasswordHasher struct {
	Cost int
}

func (h BcryptPasswordHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = 12
	}
	if cost < minBcryptCost {
		cost = minBcryptCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func (h BcryptPasswordHasher) Verify(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
