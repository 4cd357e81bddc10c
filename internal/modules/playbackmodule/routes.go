package playbackmodule

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castserve/castserve/internal/media"
)

// DecideRequest is the body of a playback decision request.
type DecideRequest struct {
	ItemID        string               `json:"item_id" binding:"required"`
	MediaSourceID string               `json:"media_source_id,omitempty"`
	ProfileName   string               `json:"profile_name,omitempty"`
	Device        DeviceIdentification `json:"device,omitempty"`
	DeviceID      string               `json:"device_id,omitempty"`

	MaxBitrate          int      `json:"max_bitrate,omitempty"`
	MaxWidth            int      `json:"max_width,omitempty"`
	MaxHeight           int      `json:"max_height,omitempty"`
	MaxAudioChannels    int      `json:"max_audio_channels,omitempty"`
	MaxFramerate        float64  `json:"max_framerate,omitempty"`
	StartPositionTicks  int64    `json:"start_position_ticks,omitempty"`
	AudioStreamIndex    *int     `json:"audio_stream_index,omitempty"`
	SubtitleStreamIndex *int     `json:"subtitle_stream_index,omitempty"`
	VideoLevel          float64  `json:"video_level,omitempty"`
	VideoProfile        string   `json:"video_profile,omitempty"`
}

// DecideResponse pairs a decision with the URL a client streams it from.
type DecideResponse struct {
	Decision  *StreamDecision `json:"decision"`
	StreamURL string          `json:"stream_url"`
}

// RegisterRoutes registers the playback HTTP endpoints
func (m *Module) RegisterRoutes(router *gin.Engine) {
	playbackGroup := router.Group("/api/playback")
	{
		playbackGroup.POST("/decide", m.handleDecide)
		playbackGroup.GET("/profiles", m.handleListProfiles)

		playbackGroup.GET("/sessions", m.handleListSessions)
		playbackGroup.POST("/sessions", m.handleRegisterSession)
		playbackGroup.POST("/sessions/:id/playing", m.handlePlaying)
		playbackGroup.POST("/sessions/:id/progress", m.handleProgress)
		playbackGroup.POST("/sessions/:id/stopped", m.handleStopped)
		playbackGroup.DELETE("/sessions/:id", m.handleEndSession)
	}

	router.GET("/videos/:itemId/*stream", m.handleStream)
	router.GET("/audio/:itemId/*stream", m.handleStream)
}

func (m *Module) handleDecide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if m.itemResolver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media library not available"})
		return
	}

	item, err := m.itemResolver.Item(req.ItemID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	sources, err := m.itemResolver.Sources(req.ItemID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no media sources"})
		return
	}

	profile := m.resolveProfile(req.ProfileName, req.Device)

	decision, err := m.streamBuilder.BuildDecision(BuildOptions{
		ItemID:              item.ID,
		Kind:                item.Kind,
		Sources:             sources,
		Profile:             profile,
		DeviceID:            req.DeviceID,
		MediaSourceID:       req.MediaSourceID,
		StartPositionTicks:  req.StartPositionTicks,
		MaxBitrate:          req.MaxBitrate,
		MaxWidth:            req.MaxWidth,
		MaxHeight:           req.MaxHeight,
		MaxAudioChannels:    req.MaxAudioChannels,
		MaxFramerate:        req.MaxFramerate,
		VideoLevel:          req.VideoLevel,
		VideoProfile:        req.VideoProfile,
		AudioStreamIndex:    req.AudioStreamIndex,
		SubtitleStreamIndex: req.SubtitleStreamIndex,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrNoEligibleSource):
			status = http.StatusNotFound
		case errors.Is(err, ErrInvalidStreamIndex):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, DecideResponse{
		Decision:  decision,
		StreamURL: EncodeStreamURL(decision, ""),
	})
}

// resolveProfile prefers an explicitly named profile and falls back to
// device identification matching.
func (m *Module) resolveProfile(name string, ident DeviceIdentification) *CapabilityProfile {
	if name != "" {
		for _, p := range m.profiles.Profiles() {
			if p.Name == name {
				return p
			}
		}
	}
	return m.profiles.ResolveCapabilityProfile(ident)
}

func (m *Module) handleListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": m.profiles.Profiles()})
}

// handleStream serves a previously decided stream. The Params query value
// recovers the original decision; direct streams are served straight from
// the source file.
func (m *Module) handleStream(c *gin.Context) {
	if m.itemResolver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media library not available"})
		return
	}
	itemID := c.Param("itemId")
	params := DecodeStreamParams(c.Query("Params"))

	sources, err := m.itemResolver.Sources(itemID)
	if err != nil || len(sources) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no media sources"})
		return
	}

	src := sources[0]
	if params.MediaSourceID != "" {
		for _, s := range sources {
			if s.ID == params.MediaSourceID {
				src = s
				break
			}
		}
	}

	if params.IsDirectStream && src.Protocol == media.ProtocolFile {
		c.File(src.Path)
		return
	}

	// Transcoded delivery is handled by a downstream transcoder that is not
	// part of this server.
	c.JSON(http.StatusNotImplemented, gin.H{"error": "transcoded delivery not available"})
}

// RegisterSessionRequest is the body for session registration.
type RegisterSessionRequest struct {
	DeviceID      string `json:"device_id" binding:"required"`
	Client        string `json:"client" binding:"required"`
	ClientVersion string `json:"client_version,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

func (m *Module) handleRegisterSession(c *gin.Context) {
	var req RegisterSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session := m.sessionManager.RegisterSession(
		req.DeviceID, req.Client, req.ClientVersion, req.UserID, c.ClientIP())
	c.JSON(http.StatusOK, session)
}

func (m *Module) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": m.sessionManager.ListSessions()})
}

// PlayingRequest reports the start of playback on a session.
type PlayingRequest struct {
	ItemID        string `json:"item_id" binding:"required"`
	MediaSourceID string `json:"media_source_id,omitempty"`
	IsDirect      bool   `json:"is_direct"`
	RunTimeTicks  int64  `json:"run_time_ticks,omitempty"`
}

func (m *Module) handlePlaying(c *gin.Context) {
	var req PlayingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := m.sessionManager.OnPlaybackStart(
		c.Param("id"), req.ItemID, req.MediaSourceID, req.IsDirect, req.RunTimeTicks)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ProgressRequest reports a position update on a session.
type ProgressRequest struct {
	PositionTicks int64 `json:"position_ticks"`
	Paused        bool  `json:"paused"`
}

func (m *Module) handleProgress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := m.sessionManager.OnPlaybackProgress(c.Param("id"), req.PositionTicks, req.Paused); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// StoppedRequest reports the end of playback on a session.
type StoppedRequest struct {
	PositionTicks int64 `json:"position_ticks"`
}

func (m *Module) handleStopped(c *gin.Context) {
	var req StoppedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := m.sessionManager.OnPlaybackStopped(c.Param("id"), req.PositionTicks); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Module) handleEndSession(c *gin.Context) {
	if err := m.sessionManager.EndSession(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
