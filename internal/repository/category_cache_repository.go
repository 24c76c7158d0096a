package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskboard/internal/model"
)

// CategoryCacheRepository mirrors an account's custom categories as one JSON payload.
type CategoryCacheRepository struct {
	db *gorm.DB
}

func NewCategoryCacheRepository(db *gorm.DB) *CategoryCacheRepository {
	return &CategoryCacheRepository{db: db}
}

// Load returns the cached payload. The bool is false when nothing is cached.
func (r *CategoryCacheRepository) Load(ctx context.Context, owner string) (string, bool, error) {
	var entry model.CategoryCache
	err := r.db.WithContext(ctx).Where("owner = ?", owner).First(&entry).Error
	switch {
	case err == nil:
		return entry.Payload, true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("load category cache: %w", err)
	}
}

// Save replaces the cached payload of owner.
func (r *CategoryCacheRepository) Save(ctx context.Context, owner, payload string) error {
	entry := model.CategoryCache{Owner: owner, Payload: payload}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("save category cache: %w", err)
	}
	return nil
}

func (r *CategoryCacheRepository) Clear(ctx context.Context, owner string) error {
	if err := r.db.WithContext(ctx).Where("owner = ?", owner).Delete(&model.CategoryCache{}).Error; err != nil {
		return fmt.Errorf("clear category cache: %w", err)
	}
	return nil
}
