package dlnamodule

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/castserve/castserve/internal/config"
	"github.com/castserve/castserve/internal/media"
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

// StartSessionRequest describes the renderer a play-to session attaches to.
type StartSessionRequest struct {
	Device        DeviceInfo `json:"device" binding:"required"`
	AVControlURL  string     `json:"av_control_url" binding:"required"`
	RCSControlURL string     `json:"rcs_control_url,omitempty"`
}

// PlayRequest queues items on a renderer. Folder ids expand into their
// playable leaves; StartIndex addresses the flattened list.
type PlayRequest struct {
	ItemIDs            []string `json:"item_ids" binding:"required"`
	StartIndex         int      `json:"start_index"`
	StartPositionTicks int64    `json:"start_position_ticks"`
}

// StreamIndexRequest selects a stream mid-playback. A negative index clears
// the selection.
type StreamIndexRequest struct {
	Index int `json:"index"`
}

// SeekRequest carries a seek target.
type SeekRequest struct {
	PositionTicks int64 `json:"position_ticks"`
}

// VolumeRequest carries a volume target.
type VolumeRequest struct {
	Volume int `json:"volume"`
}

// MuteRequest carries a mute state.
type MuteRequest struct {
	Mute bool `json:"mute"`
}

// DeviceLeftRequest carries an ssdp:byebye USN.
type DeviceLeftRequest struct {
	USN string `json:"usn" binding:"required"`
}

// RegisterRoutes registers the play-to HTTP endpoints
func (m *Module) RegisterRoutes(router *gin.Engine) {
	playtoGroup := router.Group("/api/playto")
	{
		playtoGroup.GET("/sessions", m.handleListSessions)
		playtoGroup.POST("/sessions", m.handleStartSession)
		playtoGroup.GET("/sessions/:deviceId", m.handleSessionStatus)
		playtoGroup.DELETE("/sessions/:deviceId", m.handleEndSession)

		playtoGroup.POST("/sessions/:deviceId/play", m.handlePlay)
		playtoGroup.POST("/sessions/:deviceId/next", m.command((*Controller).NextTrack))
		playtoGroup.POST("/sessions/:deviceId/previous", m.command((*Controller).PreviousTrack))
		playtoGroup.POST("/sessions/:deviceId/pause", m.command((*Controller).Pause))
		playtoGroup.POST("/sessions/:deviceId/unpause", m.command((*Controller).Unpause))
		playtoGroup.POST("/sessions/:deviceId/stop", m.command((*Controller).Stop))
		playtoGroup.POST("/sessions/:deviceId/seek", m.handleSeek)
		playtoGroup.POST("/sessions/:deviceId/volume", m.handleVolume)
		playtoGroup.POST("/sessions/:deviceId/mute", m.handleMute)
		playtoGroup.POST("/sessions/:deviceId/audiostream", m.handleAudioStream)
		playtoGroup.POST("/sessions/:deviceId/subtitlestream", m.handleSubtitleStream)

		playtoGroup.POST("/devices/left", m.handleDeviceLeft)
	}
}

func (m *Module) handleStartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Device.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device id is required"})
		return
	}

	session := m.playback.Sessions().RegisterSession(
		req.Device.ID, "DLNA", "", "", "")
	if err := m.playback.Sessions().SetRemoteControl(session.ID, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	transport := NewSOAPTransport(req.AVControlURL, req.RCSControlURL,
		config.Get().PlayTo.TransportTimeout)

	controller, err := m.manager.StartSession(req.Device, transport, session.ID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrDeviceBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, controller.Status())
}

func (m *Module) handleListSessions(c *gin.Context) {
	controllers := m.manager.Controllers()
	statuses := make([]ControllerStatus, 0, len(controllers))
	for _, ctrl := range controllers {
		statuses = append(statuses, ctrl.Status())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": statuses})
}

func (m *Module) handleSessionStatus(c *gin.Context) {
	controller, err := m.manager.Controller(c.Param("deviceId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, controller.Status())
}

func (m *Module) handleEndSession(c *gin.Context) {
	if err := m.manager.EndSession(c.Param("deviceId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePlay builds a decision per requested item and replaces the
// renderer's playlist with the resulting entries.
func (m *Module) handlePlay(c *gin.Context) {
	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.ItemIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_ids must not be empty"})
		return
	}

	controller, err := m.manager.Controller(c.Param("deviceId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	baseURL := "http://" + c.Request.Host
	entries, err := m.buildPlaylist(controller, req, baseURL)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, playbackmodule.ErrNoEligibleSource):
			status = http.StatusNotFound
		case errors.Is(err, playbackmodule.ErrInvalidStreamIndex):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	controller.SetRebuilder(m.entryRebuilder(controller, baseURL))
	if err := controller.PlayItems(entries, req.StartIndex); err != nil {
		c.JSON(playToErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, controller.Status())
}

// buildPlaylist resolves every requested item into a decided stream with
// renderer metadata. Folders flatten into their leaves first; the start
// position only applies to the entry playback begins at, later entries
// start from zero.
func (m *Module) buildPlaylist(controller *Controller, req PlayRequest, baseURL string) ([]PlaylistEntry, error) {
	resolver := m.playback.Resolver()
	if resolver == nil {
		return nil, errors.New("media library not available")
	}

	device := controller.Device()
	profile := m.playback.Profiles().ResolveCapabilityProfile(playbackmodule.DeviceIdentification{
		FriendlyName: device.FriendlyName,
		Manufacturer: device.Manufacturer,
		ModelName:    device.ModelName,
	})

	items := make([]*media.Item, 0, len(req.ItemIDs))
	for _, itemID := range req.ItemIDs {
		leaves, err := resolver.Leaves(itemID)
		if err != nil {
			return nil, err
		}
		items = append(items, leaves...)
	}

	entries := make([]PlaylistEntry, 0, len(items))
	for i, item := range items {
		var startTicks int64
		if i == req.StartIndex {
			startTicks = req.StartPositionTicks
		}

		entry, err := m.buildEntry(item, profile, device.ID, baseURL, startTicks, "", nil, nil)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// buildEntry decides one item against the renderer profile and wraps the
// result as a playlist entry.
func (m *Module) buildEntry(item *media.Item, profile *playbackmodule.CapabilityProfile, deviceID, baseURL string, startTicks int64, mediaSourceID string, audioIndex, subtitleIndex *int) (PlaylistEntry, error) {
	sources, err := m.playback.Resolver().Sources(item.ID)
	if err != nil {
		return PlaylistEntry{}, err
	}

	decision, err := m.playback.StreamBuilder().BuildDecision(playbackmodule.BuildOptions{
		ItemID:              item.ID,
		Kind:                item.Kind,
		Sources:             sources,
		Profile:             profile,
		DeviceID:            deviceID,
		MediaSourceID:       mediaSourceID,
		StartPositionTicks:  startTicks,
		AudioStreamIndex:    audioIndex,
		SubtitleStreamIndex: subtitleIndex,
	})
	if err != nil {
		return PlaylistEntry{}, err
	}

	streamURL := playbackmodule.EncodeStreamURL(decision, baseURL)
	metadata, err := BuildItemMetadata(item, decision, streamURL, artworkURL(baseURL, item))
	if err != nil {
		return PlaylistEntry{}, err
	}

	return PlaylistEntry{
		ItemID:    item.ID,
		Decision:  decision,
		StreamURL: streamURL,
		Metadata:  metadata,
	}, nil
}

// entryRebuilder adapts buildEntry for mid-playback seeks and stream
// switches. Nil index pointers carry the entry's current selection forward;
// a negative index clears it.
func (m *Module) entryRebuilder(controller *Controller, baseURL string) EntryRebuilder {
	device := controller.Device()
	return func(entry PlaylistEntry, startTicks int64, audioIndex, subtitleIndex *int) (PlaylistEntry, error) {
		resolver := m.playback.Resolver()
		if resolver == nil {
			return PlaylistEntry{}, errors.New("media library not available")
		}
		item, err := resolver.Item(entry.ItemID)
		if err != nil {
			return PlaylistEntry{}, err
		}

		if audioIndex != nil && *audioIndex < 0 {
			audioIndex = nil
		} else if audioIndex == nil && entry.Decision.AudioStreamIndex >= 0 {
			idx := entry.Decision.AudioStreamIndex
			audioIndex = &idx
		}
		if subtitleIndex != nil && *subtitleIndex < 0 {
			subtitleIndex = nil
		} else if subtitleIndex == nil && entry.Decision.SubtitleStreamIndex >= 0 {
			idx := entry.Decision.SubtitleStreamIndex
			subtitleIndex = &idx
		}

		profile := m.playback.Profiles().ResolveCapabilityProfile(playbackmodule.DeviceIdentification{
			FriendlyName: device.FriendlyName,
			Manufacturer: device.Manufacturer,
			ModelName:    device.ModelName,
		})
		return m.buildEntry(item, profile, device.ID, baseURL, startTicks,
			entry.Decision.MediaSourceID, audioIndex, subtitleIndex)
	}
}

// artworkURL points the renderer at an item's primary image, tagged for
// cache busting. Empty when the item has no artwork.
func artworkURL(baseURL string, item *media.Item) string {
	if item.PrimaryImageTag == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/media/items/%s/image?tag=%s",
		baseURL, url.PathEscape(item.ID), url.QueryEscape(item.PrimaryImageTag))
}

// command adapts a no-argument controller method into a handler.
func (m *Module) command(fn func(*Controller) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		controller, err := m.manager.Controller(c.Param("deviceId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err := fn(controller); err != nil {
			c.JSON(playToErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (m *Module) handleSeek(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.runCommand(c, func(ctrl *Controller) error { return ctrl.Seek(req.PositionTicks) })
}

func (m *Module) handleVolume(c *gin.Context) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.runCommand(c, func(ctrl *Controller) error { return ctrl.SetVolume(req.Volume) })
}

func (m *Module) handleAudioStream(c *gin.Context) {
	var req StreamIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.runCommand(c, func(ctrl *Controller) error { return ctrl.SetAudioStream(req.Index) })
}

func (m *Module) handleSubtitleStream(c *gin.Context) {
	var req StreamIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.runCommand(c, func(ctrl *Controller) error { return ctrl.SetSubtitleStream(req.Index) })
}

func (m *Module) handleMute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.runCommand(c, func(ctrl *Controller) error { return ctrl.SetMute(req.Mute) })
}

func (m *Module) runCommand(c *gin.Context, fn func(*Controller) error) {
	controller, err := m.manager.Controller(c.Param("deviceId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := fn(controller); err != nil {
		c.JSON(playToErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Module) handleDeviceLeft(c *gin.Context) {
	var req DeviceLeftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.manager.NotifyDeviceLeft(req.USN)
	c.Status(http.StatusNoContent)
}

func playToErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionEnded):
		return http.StatusGone
	case errors.Is(err, ErrCommandQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrEmptyPlaylist), errors.Is(err, ErrIndexOutOfRange),
		errors.Is(err, playbackmodule.ErrInvalidStreamIndex):
		return http.StatusBadRequest
	case errors.Is(err, ErrStreamSwitchUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}
