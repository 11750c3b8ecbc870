package models

import "time"

// Archive is one recorded live session. The row is created only after the
// first segment of the session has been committed, so an archive row always
// has bytes behind it. Primary key (platform, room_id, live_id).
type Archive struct {
	Platform  string    `gorm:"primaryKey;type:varchar(16)" json:"platform"`
	RoomID    string    `gorm:"primaryKey;column:room_id;type:varchar(64)" json:"room_id"`
	LiveID    string    `gorm:"primaryKey;column:live_id;type:varchar(32)" json:"live_id"`
	Title     string    `gorm:"type:text" json:"title"`
	Cover     string    `gorm:"type:text" json:"cover"`
	Size      int64     `json:"size"`
	Length    float64   `json:"length"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the GORM table name.
func (Archive) TableName() string { return "archives" }

// Key returns the room identity of the archive.
func (a *Archive) Key() RoomKey {
	return RoomKey{Platform: a.Platform, RoomID: a.RoomID}
}
