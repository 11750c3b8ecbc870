// Package repository defines data access interfaces for shadowreplay
// entities. All database access goes through these interfaces, enabling
// easy testing.
package repository

import (
	"context"

	"github.com/Xinrea/shadowreplay/internal/models"
)

// RecorderRepository defines operations for recorder row persistence.
type RecorderRepository interface {
	// Upsert creates the recorder row, or updates extra/enabled if it exists.
	Upsert(ctx context.Context, rec *models.Recorder) error
	// Get retrieves one recorder row.
	Get(ctx context.Context, key models.RoomKey) (*models.Recorder, error)
	// GetAll retrieves all recorder rows.
	GetAll(ctx context.Context) ([]*models.Recorder, error)
	// SetEnabled toggles per-room auto-recording.
	SetEnabled(ctx context.Context, key models.RoomKey, enabled bool) error
	// Delete removes a recorder row.
	Delete(ctx context.Context, key models.RoomKey) error
}

// ArchiveRepository defines operations for archive row persistence.
type ArchiveRepository interface {
	// Create creates a new archive row.
	Create(ctx context.Context, a *models.Archive) error
	// Get retrieves one archive row.
	Get(ctx context.Context, key models.RoomKey, liveID string) (*models.Archive, error)
	// GetByRoom retrieves archive rows for a room, newest first.
	GetByRoom(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.Archive, int64, error)
	// UpdateStats updates size and length for an in-progress session.
	UpdateStats(ctx context.Context, key models.RoomKey, liveID string, size int64, length float64) error
	// Delete removes one archive row.
	Delete(ctx context.Context, key models.RoomKey, liveID string) error
	// DeleteByRoom removes all archive rows for a room.
	DeleteByRoom(ctx context.Context, key models.RoomKey) error
	// TotalSizeByRoom sums archive sizes for a room.
	TotalSizeByRoom(ctx context.Context, key models.RoomKey) (int64, error)
}

// VideoRepository defines operations for clip output persistence.
type VideoRepository interface {
	// Create creates a new video row.
	Create(ctx context.Context, v *models.VideoItem) error
	// GetByID retrieves a video by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.VideoItem, error)
	// GetByRoom retrieves videos for a room, newest first.
	GetByRoom(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.VideoItem, int64, error)
	// Delete removes a video row.
	Delete(ctx context.Context, id models.ULID) error
}
