package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Xinrea/shadowreplay/internal/models"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// Create creates a new video row.
func (r *videoRepo) Create(ctx context.Context, v *models.VideoItem) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.VideoItem, error) {
	var v models.VideoItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &v, nil
}

// GetByRoom retrieves videos for a room, newest first.
func (r *videoRepo) GetByRoom(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.VideoItem, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.VideoItem{}).
		Where("platform = ? AND room_id = ?", key.Platform, key.RoomID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting videos: %w", err)
	}

	var videos []*models.VideoItem
	if limit <= 0 {
		limit = 50
	}
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&videos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("getting videos: %w", err)
	}
	return videos, total, nil
}

// Delete removes a video row.
func (r *videoRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.VideoItem{}).Error; err != nil {
		return fmt.Errorf("deleting video: %w", err)
	}
	return nil
}

// Ensure videoRepo implements VideoRepository at compile time.
var _ VideoRepository = (*videoRepo)(nil)
