package repository

import (
	"context"

	"nutrihub/internal/entity"

	"gorm.io/gorm"
)

type AuthLogRepository interface {
	Log(ctx context.Context, log *entity.AuthLog) error
}

type authLogRepository struct {
	db *gorm.DB
}

func NewAuthLogRepository(db *gorm.DB) AuthLogRepository {
	return &authLogRepository{db: db}
}

func (r *authLogRepository) Log(ctx context.Context, log *entity.AuthLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}
