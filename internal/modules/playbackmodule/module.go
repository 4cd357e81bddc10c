// Package playbackmodule decides how media is streamed to a client.
// It negotiates capability profiles against media sources, encodes the
// resulting decision into stream URLs, and tracks playback sessions.
package playbackmodule

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/castserve/castserve/internal/config"
	"github.com/castserve/castserve/internal/database"
	"github.com/castserve/castserve/internal/events"
	"github.com/castserve/castserve/internal/logger"
)

// Module is the playback module. It owns the profile registry, the stream
// decision builder, and the session registry.
type Module struct {
	db     *gorm.DB
	logger hclog.Logger

	profiles       *ProfileRegistry
	streamBuilder  *StreamBuilder
	sessionManager *SessionManager

	// itemResolver supplies items and their sources to the HTTP handlers.
	itemResolver ItemResolver
}

// ID returns the module identifier
func (m *Module) ID() string {
	return "playback"
}

// Name returns the human-readable module name
func (m *Module) Name() string {
	return "Playback Module"
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true
}

// Migrate performs database migrations for the module
func (m *Module) Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&database.PlaybackHistoryEntry{}); err != nil {
		return fmt.Errorf("failed to migrate playback history: %w", err)
	}
	return nil
}

// Init initializes the module components
func (m *Module) Init() error {
	m.logger = logger.Named("playback-module")
	m.db = database.GetDB()

	cfg := config.Get()

	m.profiles = NewProfileRegistry(genericRendererProfile())
	for _, p := range BuiltinProfiles() {
		m.profiles.Register(p)
	}

	m.streamBuilder = NewStreamBuilder(m.logger, cfg.Playback.DefaultMaxStreamingBitrate)

	m.sessionManager = NewSessionManager(
		m.logger,
		m.db,
		events.GetGlobalEventBus(),
		cfg.Playback.SessionTimeout,
		cfg.Playback.CleanupInterval,
	)

	m.logger.Info("Playback module initialized",
		"profiles", len(m.profiles.Profiles()))
	return nil
}

// Shutdown stops background routines
func (m *Module) Shutdown() error {
	if m.sessionManager != nil {
		m.sessionManager.Shutdown()
	}
	return nil
}

// SetItemResolver wires the media library lookup used by stream handlers.
func (m *Module) SetItemResolver(r ItemResolver) {
	m.itemResolver = r
}

// Resolver returns the wired media library lookup, nil until set.
func (m *Module) Resolver() ItemResolver {
	return m.itemResolver
}

// Profiles exposes the profile registry to other modules.
func (m *Module) Profiles() *ProfileRegistry {
	return m.profiles
}

// StreamBuilder exposes the decision builder to other modules.
func (m *Module) StreamBuilder() *StreamBuilder {
	return m.streamBuilder
}

// Sessions exposes the session registry to other modules.
func (m *Module) Sessions() *SessionManager {
	return m.sessionManager
}
