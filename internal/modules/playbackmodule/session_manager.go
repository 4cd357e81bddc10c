package playbackmodule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/castserve/castserve/internal/database"
	"github.com/castserve/castserve/internal/events"
	"github.com/castserve/castserve/internal/utils"
)

// SessionState is the reported transport state of a session.
type SessionState string

const (
	SessionStatePlaying SessionState = "playing"
	SessionStatePaused  SessionState = "paused"
	SessionStateStopped SessionState = "stopped"
)

// PlaybackSession tracks one client's current playback. A session is keyed
// by the reporting device, not the item: the same device switching items
// reuses its session.
type PlaybackSession struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id,omitempty"`
	DeviceID      string       `json:"device_id"`
	Client        string       `json:"client"`
	ClientVersion string       `json:"client_version,omitempty"`
	RemoteAddr    string       `json:"remote_addr,omitempty"`
	ItemID        string       `json:"item_id,omitempty"`
	MediaSourceID string       `json:"media_source_id,omitempty"`
	IsDirect      bool         `json:"is_direct"`
	PositionTicks int64        `json:"position_ticks"`
	RunTimeTicks  int64        `json:"run_time_ticks,omitempty"`
	State         SessionState `json:"state"`
	StartTime     time.Time    `json:"start_time"`
	LastActivity  time.Time    `json:"last_activity"`

	// SupportsRemoteControl marks sessions that can be driven by the
	// play-to controller.
	SupportsRemoteControl bool `json:"supports_remote_control"`
}

// SessionKey derives the stable session id for a device/client pair.
// Reconnecting clients land on the same session instead of leaking a new
// one per connection.
func SessionKey(deviceID, client, version string) string {
	return utils.GenerateNamespaceUUID(utils.NamespaceSessions,
		fmt.Sprintf("%s|%s|%s", deviceID, client, version))
}

// SessionManager is the registry of active playback sessions. All reads and
// writes go through the registry lock; expired sessions are swept in the
// background.
type SessionManager struct {
	logger   hclog.Logger
	db       *gorm.DB
	eventBus events.EventBus

	sessions map[string]*PlaybackSession
	mu       sync.RWMutex

	timeout         time.Duration
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewSessionManager creates a session manager and starts its cleanup
// routine.
func NewSessionManager(logger hclog.Logger, db *gorm.DB, eventBus events.EventBus, timeout, cleanupInterval time.Duration) *SessionManager {
	sm := &SessionManager{
		logger:          logger,
		db:              db,
		eventBus:        eventBus,
		sessions:        make(map[string]*PlaybackSession),
		timeout:         timeout,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}

	go sm.cleanupRoutine()

	return sm
}

// RegisterSession upserts the session for a device/client pair and returns
// a copy of it. Existing sessions keep their start time and playback fields;
// only the identity and activity fields refresh.
func (sm *SessionManager) RegisterSession(deviceID, client, version, userID, remoteAddr string) *PlaybackSession {
	key := SessionKey(deviceID, client, version)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	session, ok := sm.sessions[key]
	if !ok {
		session = &PlaybackSession{
			ID:        key,
			StartTime: now,
			State:     SessionStateStopped,
		}
		sm.sessions[key] = session

		sm.logger.Info("Created playback session",
			"sessionID", key,
			"deviceID", deviceID,
			"client", client)

		sm.publish(events.EventSessionCreated, key, map[string]interface{}{
			"device_id": deviceID,
			"client":    client,
		})
	}

	session.DeviceID = deviceID
	session.Client = client
	session.ClientVersion = version
	session.UserID = userID
	if remoteAddr != "" {
		session.RemoteAddr = remoteAddr
	}
	session.LastActivity = now

	copied := *session
	return &copied
}

// SetRemoteControl marks whether a session can be driven by the play-to
// controller.
func (sm *SessionManager) SetRemoteControl(sessionID string, enabled bool) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.SupportsRemoteControl = enabled
	return nil
}

// OnPlaybackStart records that a session began playing an item.
func (sm *SessionManager) OnPlaybackStart(sessionID, itemID, mediaSourceID string, isDirect bool, runTimeTicks int64) error {
	sm.mu.Lock()
	session, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return ErrSessionNotFound
	}
	session.ItemID = itemID
	session.MediaSourceID = mediaSourceID
	session.IsDirect = isDirect
	session.RunTimeTicks = runTimeTicks
	session.PositionTicks = 0
	session.State = SessionStatePlaying
	session.LastActivity = time.Now()
	sm.mu.Unlock()

	sm.logger.Info("Playback started",
		"sessionID", sessionID,
		"itemID", itemID,
		"direct", isDirect)

	sm.publish(events.EventPlaybackStart, sessionID, map[string]interface{}{
		"item_id":         itemID,
		"media_source_id": mediaSourceID,
		"is_direct":       isDirect,
	})
	return nil
}

// OnPlaybackProgress updates a session's position and state.
func (sm *SessionManager) OnPlaybackProgress(sessionID string, positionTicks int64, paused bool) error {
	sm.mu.Lock()
	session, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return ErrSessionNotFound
	}
	session.PositionTicks = positionTicks
	if paused {
		session.State = SessionStatePaused
	} else {
		session.State = SessionStatePlaying
	}
	session.LastActivity = time.Now()
	itemID := session.ItemID
	sm.mu.Unlock()

	sm.publish(events.EventPlaybackProgress, sessionID, map[string]interface{}{
		"item_id":        itemID,
		"position_ticks": positionTicks,
		"paused":         paused,
	})
	return nil
}

// OnPlaybackStopped records the end of playback, persists a history entry,
// and leaves the session registered for reuse.
func (sm *SessionManager) OnPlaybackStopped(sessionID string, positionTicks int64) error {
	sm.mu.Lock()
	session, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return ErrSessionNotFound
	}
	if positionTicks > 0 {
		session.PositionTicks = positionTicks
	}
	entry := database.PlaybackHistoryEntry{
		SessionID:     session.ID,
		ItemID:        session.ItemID,
		MediaSourceID: session.MediaSourceID,
		UserID:        session.UserID,
		DeviceID:      session.DeviceID,
		Client:        session.Client,
		PositionTicks: session.PositionTicks,
		IsDirect:      session.IsDirect,
		PlayedAt:      time.Now(),
	}
	itemID := session.ItemID
	session.State = SessionStateStopped
	session.ItemID = ""
	session.MediaSourceID = ""
	session.LastActivity = time.Now()
	sm.mu.Unlock()

	if sm.db != nil && entry.ItemID != "" {
		if err := sm.db.Create(&entry).Error; err != nil {
			sm.logger.Error("Failed to persist playback history", "error", err)
		}
	}

	sm.logger.Info("Playback stopped",
		"sessionID", sessionID,
		"itemID", itemID,
		"positionTicks", entry.PositionTicks)

	sm.publish(events.EventPlaybackStop, sessionID, map[string]interface{}{
		"item_id":        itemID,
		"position_ticks": entry.PositionTicks,
	})
	return nil
}

// GetSession returns a session by id.
func (sm *SessionManager) GetSession(sessionID string) (*PlaybackSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

// ListSessions returns all registered sessions ordered by id.
func (sm *SessionManager) ListSessions() []*PlaybackSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*PlaybackSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		copied := *s
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// EndSession removes a session immediately, recording history for any
// in-flight playback.
func (sm *SessionManager) EndSession(sessionID string) error {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	playing := ok && session.ItemID != ""
	sm.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	if playing {
		if err := sm.OnPlaybackStopped(sessionID, 0); err != nil {
			return err
		}
	}

	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	sm.logger.Info("Ended playback session", "sessionID", sessionID)
	sm.publish(events.EventSessionEnded, sessionID, nil)
	return nil
}

// Shutdown stops the cleanup routine.
func (sm *SessionManager) Shutdown() {
	sm.stopOnce.Do(func() { close(sm.stopCh) })
}

func (sm *SessionManager) cleanupRoutine() {
	ticker := time.NewTicker(sm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopCh:
			return
		case <-ticker.C:
			sm.cleanupExpired()
		}
	}
}

func (sm *SessionManager) cleanupExpired() {
	cutoff := time.Now().Add(-sm.timeout)

	sm.mu.Lock()
	var expired []string
	for id, session := range sm.sessions {
		if session.LastActivity.Before(cutoff) {
			expired = append(expired, id)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, id := range expired {
		sm.logger.Info("Expired inactive playback session", "sessionID", id)
		sm.publish(events.EventSessionExpired, id, nil)
	}
}

func (sm *SessionManager) publish(eventType events.EventType, sessionID string, data map[string]interface{}) {
	if sm.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["session_id"] = sessionID
	sm.eventBus.PublishAsync(events.NewEvent(eventType, "playback", data))
}
