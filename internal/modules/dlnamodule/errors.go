package dlnamodule

import (
	"errors"
)

var (
	// ErrSessionEnded is returned for commands issued after a controller
	// shut down.
	ErrSessionEnded = errors.New("remote playback session has ended")

	// ErrCommandQueueFull is returned when a controller's command queue is
	// saturated, usually because the renderer stopped responding.
	ErrCommandQueueFull = errors.New("controller command queue is full")

	// ErrStreamSwitchUnavailable is returned when a session cannot rebuild
	// stream decisions, so mid-playback stream switching has nothing to
	// re-issue.
	ErrStreamSwitchUnavailable = errors.New("stream switching is not available for this session")

	// ErrEmptyPlaylist is returned for playlist operations with nothing
	// queued.
	ErrEmptyPlaylist = errors.New("playlist is empty")

	// ErrIndexOutOfRange is returned for playlist positions outside the
	// queued entries.
	ErrIndexOutOfRange = errors.New("playlist index out of range")

	// ErrDeviceNotFound is returned for operations on unknown renderers.
	ErrDeviceNotFound = errors.New("renderer not found")

	// ErrDeviceBusy is returned when a renderer already has an active
	// controller.
	ErrDeviceBusy = errors.New("renderer already has an active session")
)
