package database

import (
	"time"
)

// MediaItem is one library entry. Sources hang off it; an item with no
// sources is not playable. Folders link their children through ParentID.
type MediaItem struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	ParentID        string    `gorm:"index" json:"parent_id,omitempty"`
	Name            string    `gorm:"index" json:"name"`
	Kind            string    `json:"kind"`
	IsFolder        bool      `json:"is_folder"`
	PrimaryImageTag string    `json:"primary_image_tag,omitempty"`
	ArtworkPath     string    `json:"artwork_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MediaSource is one physical representation of a library item.
type MediaSource struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	MediaItemID  string    `gorm:"index" json:"media_item_id"`
	Path         string    `json:"path"`
	Protocol     string    `json:"protocol"`
	Container    string    `json:"container"`
	Size         int64     `json:"size,omitempty"`
	RunTimeTicks int64     `json:"run_time_ticks,omitempty"`
	Bitrate      int       `json:"bitrate,omitempty"`
	Timestamp    string    `json:"timestamp,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MediaStreamRow is one elementary stream of a media source as probed at
// scan time.
type MediaStreamRow struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	MediaSourceID string  `gorm:"index" json:"media_source_id"`
	StreamIndex   int     `json:"stream_index"`
	Type          string  `json:"type"`
	Codec         string  `json:"codec"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	BitDepth      int     `json:"bit_depth,omitempty"`
	Profile       string  `json:"profile,omitempty"`
	Level         float64 `json:"level,omitempty"`
	FrameRate     float64 `json:"frame_rate,omitempty"`
	Channels      int     `json:"channels,omitempty"`
	SampleRate    int     `json:"sample_rate,omitempty"`
	BitRate       int     `json:"bit_rate,omitempty"`
	Language      string  `json:"language,omitempty"`
	IsDefault     bool    `json:"is_default,omitempty"`
	IsForced      bool    `json:"is_forced,omitempty"`
}

// PlaybackHistoryEntry records one finished playback for the history surface.
// Written best-effort when a session reports a stop.
type PlaybackHistoryEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SessionID     string    `gorm:"index" json:"session_id"`
	ItemID        string    `gorm:"index" json:"item_id"`
	MediaSourceID string    `json:"media_source_id"`
	UserID        string    `gorm:"index" json:"user_id,omitempty"`
	DeviceID      string    `json:"device_id"`
	Client        string    `json:"client"`
	PositionTicks int64     `json:"position_ticks"`
	IsDirect      bool      `json:"is_direct"`
	PlayedAt      time.Time `gorm:"index" json:"played_at"`
	CreatedAt     time.Time `json:"created_at"`
}
