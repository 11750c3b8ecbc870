package models

import (
	"fmt"
	"time"
)

// Known platform identifiers.
const (
	PlatformBilibili = "bilibili"
	PlatformDouyin   = "douyin"
	PlatformHuya     = "huya"
	PlatformKuaishou = "kuaishou"
	PlatformTikTok   = "tiktok"
)

// ValidPlatform reports whether name is a supported platform identifier.
func ValidPlatform(name string) bool {
	switch name {
	case PlatformBilibili, PlatformDouyin, PlatformHuya, PlatformKuaishou, PlatformTikTok:
		return true
	}
	return false
}

// RoomKey identifies a live room as (platform, room_id).
type RoomKey struct {
	Platform string `json:"platform"`
	RoomID   string `json:"room_id"`
}

// Validate checks that the key parses as a room identity.
func (k RoomKey) Validate() error {
	if !ValidPlatform(k.Platform) {
		return fmt.Errorf("unknown platform %q", k.Platform)
	}
	if k.RoomID == "" {
		return fmt.Errorf("room_id is required")
	}
	return nil
}

// String renders the key as platform:room_id.
func (k RoomKey) String() string {
	return k.Platform + ":" + k.RoomID
}

// Recorder is one registered room. Primary key (platform, room_id).
type Recorder struct {
	Platform  string    `gorm:"primaryKey;type:varchar(16)" json:"platform"`
	RoomID    string    `gorm:"primaryKey;column:room_id;type:varchar(64)" json:"room_id"`
	Enabled   *bool     `gorm:"default:true" json:"enabled"`
	Extra     string    `gorm:"type:text" json:"extra"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the GORM table name.
func (Recorder) TableName() string { return "recorders" }

// Key returns the room identity of the row.
func (r *Recorder) Key() RoomKey {
	return RoomKey{Platform: r.Platform, RoomID: r.RoomID}
}

// IsEnabled reports the enabled flag, defaulting to true when unset.
func (r *Recorder) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}
