package models

// Video status values.
const (
	VideoStatusPending = "pending"
	VideoStatusReady   = "ready"
	VideoStatusFailed  = "failed"
)

// VideoItem is one clip artifact produced from an archive.
type VideoItem struct {
	BaseModel
	Platform string  `gorm:"type:varchar(16);index:idx_videos_room" json:"platform"`
	RoomID   string  `gorm:"column:room_id;type:varchar(64);index:idx_videos_room" json:"room_id"`
	LiveID   string  `gorm:"column:live_id;type:varchar(32)" json:"live_id"`
	File     string  `gorm:"type:text" json:"file"`
	Cover    string  `gorm:"type:text" json:"cover"`
	Length   float64 `json:"length"`
	Size     int64   `json:"size"`
	Status   string  `gorm:"type:varchar(16)" json:"status"`
}

// TableName overrides the GORM table name.
func (VideoItem) TableName() string { return "videos" }
