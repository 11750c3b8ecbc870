package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Xinrea/shadowreplay/internal/models"
)

// archiveRepo implements ArchiveRepository using GORM.
type archiveRepo struct {
	db *gorm.DB
}

// NewArchiveRepository creates a new ArchiveRepository.
func NewArchiveRepository(db *gorm.DB) *archiveRepo {
	return &archiveRepo{db: db}
}

// Create creates a new archive row.
func (r *archiveRepo) Create(ctx context.Context, a *models.Archive) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	return nil
}

// Get retrieves one archive row.
func (r *archiveRepo) Get(ctx context.Context, key models.RoomKey, liveID string) (*models.Archive, error) {
	var a models.Archive
	err := r.db.WithContext(ctx).
		Where("platform = ? AND room_id = ? AND live_id = ?", key.Platform, key.RoomID, liveID).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting archive: %w", err)
	}
	return &a, nil
}

// GetByRoom retrieves archive rows for a room, newest first.
func (r *archiveRepo) GetByRoom(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.Archive, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Archive{}).
		Where("platform = ? AND room_id = ?", key.Platform, key.RoomID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting archives: %w", err)
	}

	var archives []*models.Archive
	if limit <= 0 {
		limit = 50
	}
	err := q.Order("live_id DESC").Offset(offset).Limit(limit).Find(&archives).Error
	if err != nil {
		return nil, 0, fmt.Errorf("getting archives: %w", err)
	}
	return archives, total, nil
}

// UpdateStats updates size and length for an in-progress session.
func (r *archiveRepo) UpdateStats(ctx context.Context, key models.RoomKey, liveID string, size int64, length float64) error {
	err := r.db.WithContext(ctx).Model(&models.Archive{}).
		Where("platform = ? AND room_id = ? AND live_id = ?", key.Platform, key.RoomID, liveID).
		Updates(map[string]any{"size": size, "length": length}).Error
	if err != nil {
		return fmt.Errorf("updating archive stats: %w", err)
	}
	return nil
}

// Delete removes one archive row.
func (r *archiveRepo) Delete(ctx context.Context, key models.RoomKey, liveID string) error {
	err := r.db.WithContext(ctx).
		Where("platform = ? AND room_id = ? AND live_id = ?", key.Platform, key.RoomID, liveID).
		Delete(&models.Archive{}).Error
	if err != nil {
		return fmt.Errorf("deleting archive: %w", err)
	}
	return nil
}

// DeleteByRoom removes all archive rows for a room.
func (r *archiveRepo) DeleteByRoom(ctx context.Context, key models.RoomKey) error {
	err := r.db.WithContext(ctx).
		Where("platform = ? AND room_id = ?", key.Platform, key.RoomID).
		Delete(&models.Archive{}).Error
	if err != nil {
		return fmt.Errorf("deleting archives for room: %w", err)
	}
	return nil
}

// TotalSizeByRoom sums archive sizes for a room.
func (r *archiveRepo) TotalSizeByRoom(ctx context.Context, key models.RoomKey) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Archive{}).
		Where("platform = ? AND room_id = ?", key.Platform, key.RoomID).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("summing archive sizes: %w", err)
	}
	return total, nil
}

// Ensure archiveRepo implements ArchiveRepository at compile time.
var _ ArchiveRepository = (*archiveRepo)(nil)
