package repository

import (
	"context"
	"errors"
	"time"

	"nutrihub/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MFAChallengeRepository interface {
	Create(ctx context.Context, challenge *entity.MFAChallenge) error
	FindUsable(ctx context.Context, userID uuid.UUID, codeHash string, now time.Time) (*entity.MFAChallenge, error)
	MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error)
	ConsumeAllByUser(ctx context.Context, userID uuid.UUID) error
}

type mfaChallengeRepository struct {
	db *gorm.DB
}

func NewMFAChallengeRepository(db *gorm.DB) MFAChallengeRepository {
	return &mfaChallengeRepository{db: db}
}

func (r *mfaChallengeRepository) Create(ctx context.Context, challenge *entity.MFAChallenge) error {
	return r.db.WithContext(ctx).Create(challenge).Error
}

// FindUsable returns the most recently issued unconsumed, unexpired challenge
// for userID whose code hashes to codeHash.
func (r *mfaChallengeRepository) FindUsable(ctx context.Context, userID uuid.UUID, codeHash string, now time.Time) (*entity.MFAChallenge, error) {
	var challenge entity.MFAChallenge
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND code_hash = ? AND consumed = ? AND expires_at > ?", userID, codeHash, false, now).
		Order("created_at DESC").
		First(&challenge).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (r *mfaChallengeRepository) MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.MFAChallenge{}).
		Where("id = ? AND consumed = ?", id, false).
		Updates(map[string]any{"consumed": true, "consumed_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *mfaChallengeRepository) ConsumeAllByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.MFAChallenge{}).
		Where("user_id = ? AND consumed = ?", userID, false).
		Updates(map[string]any{"consumed": true, "consumed_at": time.Now()}).
		Error
}
