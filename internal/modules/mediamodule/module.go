// Package mediamodule is the media library: items, their sources, and the
// probed stream layout of each source. It backs the playback module's item
// resolution.
package mediamodule

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/castserve/castserve/internal/database"
	"github.com/castserve/castserve/internal/logger"
	"github.com/castserve/castserve/internal/media"
	"github.com/castserve/castserve/internal/modules/modulemanager"
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

// ErrItemNotFound is returned when a library item does not exist.
var ErrItemNotFound = errors.New("library item not found")

// Module is the media library module.
type Module struct {
	db     *gorm.DB
	logger hclog.Logger
}

// ID returns the module identifier
func (m *Module) ID() string {
	return "media"
}

// Name returns the human-readable module name
func (m *Module) Name() string {
	return "Media Library Module"
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true
}

// Migrate performs database migrations for the module
func (m *Module) Migrate(db *gorm.DB) error {
	models := []interface{}{
		&database.MediaItem{},
		&database.MediaSource{},
		&database.MediaStreamRow{},
	}
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}

// Init initializes the module and wires it into the playback module as its
// item resolver.
func (m *Module) Init() error {
	m.logger = logger.Named("media-module")
	m.db = database.GetDB()

	if pb, ok := modulemanager.Get("playback"); ok {
		if playback, ok := pb.(*playbackmodule.Module); ok {
			playback.SetItemResolver(m)
		}
	}

	m.logger.Info("Media library module initialized")
	return nil
}

// Item returns a library item by id.
func (m *Module) Item(id string) (*media.Item, error) {
	var row database.MediaItem
	if err := m.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}
	return itemFromRow(&row), nil
}

// Leaves flattens an item into its playable leaves. A plain item returns
// itself; folders recurse through their children ordered by name.
func (m *Module) Leaves(id string) ([]*media.Item, error) {
	item, err := m.Item(id)
	if err != nil {
		return nil, err
	}
	return m.collectLeaves(item)
}

func (m *Module) collectLeaves(item *media.Item) ([]*media.Item, error) {
	if !item.IsFolder {
		return []*media.Item{item}, nil
	}

	var rows []database.MediaItem
	if err := m.db.Where("parent_id = ?", item.ID).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load children of %s: %w", item.ID, err)
	}

	var leaves []*media.Item
	for i := range rows {
		children, err := m.collectLeaves(itemFromRow(&rows[i]))
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, children...)
	}
	return leaves, nil
}

// Sources returns the media sources of an item with their stream layout.
func (m *Module) Sources(itemID string) ([]*media.SourceDescriptor, error) {
	var rows []database.MediaSource
	if err := m.db.Where("media_item_id = ?", itemID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load sources for %s: %w", itemID, err)
	}
	if len(rows) == 0 {
		return nil, playbackmodule.ErrNoEligibleSource
	}

	sources := make([]*media.SourceDescriptor, 0, len(rows))
	for i := range rows {
		src, err := m.sourceFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func (m *Module) sourceFromRow(row *database.MediaSource) (*media.SourceDescriptor, error) {
	var streamRows []database.MediaStreamRow
	if err := m.db.Where("media_source_id = ?", row.ID).Order("stream_index").Find(&streamRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load streams for source %s: %w", row.ID, err)
	}

	src := &media.SourceDescriptor{
		ID:           row.ID,
		Path:         row.Path,
		Protocol:     media.Protocol(row.Protocol),
		Container:    row.Container,
		Size:         row.Size,
		RunTimeTicks: row.RunTimeTicks,
		Bitrate:      row.Bitrate,
		Timestamp:    media.TimestampMode(row.Timestamp),
	}
	for i := range streamRows {
		src.Streams = append(src.Streams, streamFromRow(&streamRows[i]))
	}
	return src, nil
}

func itemFromRow(row *database.MediaItem) *media.Item {
	return &media.Item{
		ID:              row.ID,
		Name:            row.Name,
		Kind:            media.ParseKind(row.Kind),
		IsFolder:        row.IsFolder,
		PrimaryImageTag: row.PrimaryImageTag,
	}
}

func streamFromRow(row *database.MediaStreamRow) media.Stream {
	return media.Stream{
		Type:             media.StreamType(row.Type),
		Index:            row.StreamIndex,
		Codec:            row.Codec,
		Width:            row.Width,
		Height:           row.Height,
		BitDepth:         row.BitDepth,
		Profile:          row.Profile,
		Level:            row.Level,
		AverageFrameRate: row.FrameRate,
		Channels:         row.Channels,
		SampleRate:       row.SampleRate,
		BitRate:          row.BitRate,
		Language:         row.Language,
		IsDefault:        row.IsDefault,
		IsForced:         row.IsForced,
	}
}
