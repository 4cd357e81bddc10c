package playbackmodule

import (
	"errors"
)

var (
	// ErrInvalidStreamIndex is returned when a requested audio or subtitle
	// stream index does not exist on the selected source.
	ErrInvalidStreamIndex = errors.New("requested stream index does not exist on the selected source")

	// ErrNoEligibleSource is returned when an item has no usable media
	// source for the request.
	ErrNoEligibleSource = errors.New("no eligible media source")

	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)
