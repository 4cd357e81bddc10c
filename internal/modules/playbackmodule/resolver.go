package playbackmodule

import (
	"github.com/castserve/castserve/internal/media"
)

// ItemResolver looks up library items and their media sources. The library
// module implements it; handlers in this package and the play-to module
// consume it.
type ItemResolver interface {
	Item(id string) (*media.Item, error)

	// Leaves flattens an item into its playable leaves: a plain item
	// yields itself, a folder yields its non-folder descendants in
	// playback order.
	Leaves(id string) ([]*media.Item, error)

	Sources(itemID string) ([]*media.SourceDescriptor, error)
}
