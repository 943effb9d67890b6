package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"nutrihub/internal/entity"
	"nutrihub/internal/repository"
	"nutrihub/internal/utils"

	"github.com/google/uuid"
)

const (
	mfaCodeMin    = 100000
	mfaCodeSpan   = 900000
	mfaCodeLength = 6
)

// MFAChallengeManager issues and checks emailed one-time codes. Codes are
// stored hashed. Earlier codes stay valid until they expire unless
// invalidatePrevious is set.
type MFAChallengeManager struct {
	challenges         repository.MFAChallengeRepository
	clock              Clock
	ttl                time.Duration
	invalidatePrevious bool
}

func NewMFAChallengeManager(
	challenges repository.MFAChallengeRepository,
	clock Clock,
	ttl time.Duration,
	invalidatePrevious bool,
) *MFAChallengeManager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &MFAChallengeManager{
		challenges:         challenges,
		clock:              clock,
		ttl:                ttl,
		invalidatePrevious: invalidatePrevious,
	}
}

func (m *MFAChallengeManager) TTL() time.Duration {
	return m.ttl
}

func (m *MFAChallengeManager) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	code, err := generateNumericCode()
	if err != nil {
		return "", err
	}

	if m.invalidatePrevious {
		if err := m.challenges.ConsumeAllByUser(ctx, userID); err != nil {
			return "", storageError(err)
		}
	}

	now := m.clock.Now()
	challenge := &entity.MFAChallenge{
		UserID:    userID,
		CodeHash:  utils.HashToken(code),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.challenges.Create(ctx, challenge); err != nil {
		return "", storageError(err)
	}
	return code, nil
}

// Verify consumes the challenge on success. A storage fault is returned as an
// error and never reported as a plain mismatch.
func (m *MFAChallengeManager) Verify(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	if len(code) != mfaCodeLength {
		return false, nil
	}

	codeHash := utils.HashToken(code)
	now := m.clock.Now()
	challenge, err := m.challenges.FindUsable(ctx, userID, codeHash, now)
	if err != nil {
		return false, storageError(err)
	}
	if challenge == nil || challenge.Expired(now) {
		return false, nil
	}
	if !utils.HashesEqual(challenge.CodeHash, codeHash) {
		return false, nil
	}

	consumed, err := m.challenges.MarkConsumed(ctx, challenge.ID)
	if err != nil {
		return false, storageError(err)
	}
	return consumed, nil
}

func generateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(mfaCodeSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+mfaCodeMin), nil
}
