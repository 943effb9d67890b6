package repository

import (
	"context"
	"errors"
	"time"

	"nutrihub/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	FindActiveByTokenHash(ctx context.Context, hash string, now time.Time) (*entity.Session, error)
	// Deactivate flips an active session to inactive. It reports false when the
	// session was already inactive, so only one caller can win a rotation.
	Deactivate(ctx context.Context, sessionID uuid.UUID) (bool, error)
	DeactivateByTokenHash(ctx context.Context, hash string) error
	DeactivateAllByUser(ctx context.Context, userID uuid.UUID) error
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, s *entity.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepository) FindActiveByTokenHash(ctx context.Context, hash string, now time.Time) (*entity.Session, error) {
	var session entity.Session
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND active = ? AND expires_at > ?", hash, true, now).
		First(&session).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) Deactivate(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Session{}).
		Where("id = ? AND active = ?", sessionID, true).
		Updates(map[string]any{"active": false, "revoked_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *sessionRepository) DeactivateByTokenHash(ctx context.Context, hash string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Session{}).
		Where("token_hash = ? AND active = ?", hash, true).
		Updates(map[string]any{"active": false, "revoked_at": time.Now()}).
		Error
}

func (r *sessionRepository) DeactivateAllByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.Session{}).
		Where("user_id = ? AND active = ?", userID, true).
		Updates(map[string]any{"active": false, "revoked_at": time.Now()}).
		Error
}

func (r *sessionRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&entity.Session{})
	return res.RowsAffected, res.Error
}
