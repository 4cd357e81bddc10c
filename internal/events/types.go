// Package events provides the in-process event bus used to fan out playback
// lifecycle events to interested collaborators.
package events

import (
	"time"
)

// EventType identifies a class of event.
type EventType string

const (
	// Playback lifecycle events, fired by the session registry.
	EventPlaybackStart    EventType = "playback.start"
	EventPlaybackProgress EventType = "playback.progress"
	EventPlaybackStop     EventType = "playback.stop"

	// Session lifecycle events.
	EventSessionCreated EventType = "session.created"
	EventSessionEnded   EventType = "session.ended"
	EventSessionExpired EventType = "session.expired"

	// Remote playback controller events.
	EventPlayToStarted EventType = "playto.started"
	EventPlayToStopped EventType = "playto.stopped"
)

// Event is one published occurrence.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler processes one delivered event.
type EventHandler func(event Event)

// Subscription represents one active handler registration.
type Subscription struct {
	ID      string      `json:"id"`
	Types   []EventType `json:"types,omitempty"`
	handler EventHandler
}

// Matches reports whether the subscription wants the given event. An empty
// type list subscribes to everything.
func (s *Subscription) Matches(event Event) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}

// NewEvent creates an event with the timestamp set.
func NewEvent(eventType EventType, source string, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}
