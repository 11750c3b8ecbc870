package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Xinrea/shadowreplay/internal/models"
)

// recorderRepo implements RecorderRepository using GORM.
type recorderRepo struct {
	db *gorm.DB
}

// NewRecorderRepository creates a new RecorderRepository.
func NewRecorderRepository(db *gorm.DB) *recorderRepo {
	return &recorderRepo{db: db}
}

// Upsert creates the recorder row, or updates extra/enabled if it exists.
func (r *recorderRepo) Upsert(ctx context.Context, rec *models.Recorder) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"extra", "enabled", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upserting recorder: %w", err)
	}
	return nil
}

// Get retrieves one recorder row.
func (r *recorderRepo) Get(ctx context.Context, key models.RoomKey) (*models.Recorder, error) {
	var rec models.Recorder
	err := r.db.WithContext(ctx).
		Where("platform = ? AND room_id = ?", key.Platform, key.RoomID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recorder: %w", err)
	}
	return &rec, nil
}

// GetAll retrieves all recorder rows.
func (r *recorderRepo) GetAll(ctx context.Context) ([]*models.Recorder, error) {
	var recs []*models.Recorder
	if err := r.db.WithContext(ctx).Order("platform ASC, room_id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("getting all recorders: %w", err)
	}
	return recs, nil
}

// SetEnabled toggles per-room auto-recording.
func (r *recorderRepo) SetEnabled(ctx context.Context, key models.RoomKey, enabled bool) error {
	err := r.db.WithContext(ctx).Model(&models.Recorder{}).
		Where("platform = ? AND room_id = ?", key.Platform, key.RoomID).
		Update("enabled", enabled).Error
	if err != nil {
		return fmt.Errorf("setting recorder enabled: %w", err)
	}
	return nil
}

// Delete removes a recorder row.
func (r *recorderRepo) Delete(ctx context.Context, key models.RoomKey) error {
	err := r.db.WithContext(ctx).
		Where("platform = ? AND room_id = ?", key.Platform, key.RoomID).
		Delete(&models.Recorder{}).Error
	if err != nil {
		return fmt.Errorf("deleting recorder: %w", err)
	}
	return nil
}

// Ensure recorderRepo implements RecorderRepository at compile time.
var _ RecorderRepository = (*recorderRepo)(nil)
