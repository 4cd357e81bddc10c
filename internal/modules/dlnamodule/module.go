// Package dlnamodule remote-controls DLNA renderers: it queues decided
// streams onto a device, keeps the playlist advancing, and feeds observed
// playback state back into the session registry.
package dlnamodule

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/castserve/castserve/internal/config"
	"github.com/castserve/castserve/internal/events"
	"github.com/castserve/castserve/internal/logger"
	"github.com/castserve/castserve/internal/modules/modulemanager"
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

// Module is the play-to module. It depends on the playback module for
// stream decisions and session bookkeeping.
type Module struct {
	logger  hclog.Logger
	manager *Manager

	playback *playbackmodule.Module
}

// ID returns the module identifier
func (m *Module) ID() string {
	return "playto"
}

// Name returns the human-readable module name
func (m *Module) Name() string {
	return "PlayTo Module"
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return false
}

// Migrate performs database migrations for the module
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init initializes the module components
func (m *Module) Init() error {
	m.logger = logger.Named("playto-module")

	pb, ok := modulemanager.Get("playback")
	if !ok {
		return fmt.Errorf("playto module requires the playback module")
	}
	m.playback, ok = pb.(*playbackmodule.Module)
	if !ok {
		return fmt.Errorf("unexpected playback module type %T", pb)
	}

	m.manager = NewManager(
		m.logger,
		m.playback.Sessions(),
		events.GetGlobalEventBus(),
		config.Get().PlayTo,
	)

	m.logger.Info("PlayTo module initialized")
	return nil
}

// Shutdown closes all controllers
func (m *Module) Shutdown() error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	return nil
}

// Manager exposes the play-to manager to other modules.
func (m *Module) Manager() *Manager {
	return m.manager
}
