package dlnamodule

import (
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

// PlaylistEntry is one queued item on a remote playback session. Entries
// are immutable once enqueued; the controller only moves its cursor.
type PlaylistEntry struct {
	Index     int                             `json:"index"`
	ItemID    string                          `json:"item_id"`
	Decision  *playbackmodule.StreamDecision  `json:"decision"`
	StreamURL string                          `json:"stream_url"`
	Metadata  string                          `json:"-"`
}
