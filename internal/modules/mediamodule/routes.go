package mediamodule

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/castserve/castserve/internal/database"
	"github.com/castserve/castserve/internal/utils"
)

// CreateItemRequest registers one library item together with its sources.
type CreateItemRequest struct {
	Name            string                `json:"name" binding:"required"`
	Kind            string                `json:"kind" binding:"required"`
	ParentID        string                `json:"parent_id,omitempty"`
	IsFolder        bool                  `json:"is_folder,omitempty"`
	PrimaryImageTag string                `json:"primary_image_tag,omitempty"`
	ArtworkPath     string                `json:"artwork_path,omitempty"`
	Sources         []CreateSourceRequest `json:"sources"`
}

// CreateSourceRequest is one media source of a new item.
type CreateSourceRequest struct {
	Path         string                `json:"path" binding:"required"`
	Protocol     string                `json:"protocol"`
	Container    string                `json:"container" binding:"required"`
	Size         int64                 `json:"size,omitempty"`
	RunTimeTicks int64                 `json:"run_time_ticks,omitempty"`
	Bitrate      int                   `json:"bitrate,omitempty"`
	Timestamp    string                `json:"timestamp,omitempty"`
	Streams      []CreateStreamRequest `json:"streams"`
}

// CreateStreamRequest is one probed stream of a new source.
type CreateStreamRequest struct {
	Index      int     `json:"index"`
	Type       string  `json:"type" binding:"required"`
	Codec      string  `json:"codec"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	BitDepth   int     `json:"bit_depth,omitempty"`
	Profile    string  `json:"profile,omitempty"`
	Level      float64 `json:"level,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	BitRate    int     `json:"bit_rate,omitempty"`
	Language   string  `json:"language,omitempty"`
	IsDefault  bool    `json:"is_default,omitempty"`
	IsForced   bool    `json:"is_forced,omitempty"`
}

// RegisterRoutes registers the media library HTTP endpoints
func (m *Module) RegisterRoutes(router *gin.Engine) {
	mediaGroup := router.Group("/api/media")
	{
		mediaGroup.GET("/items", m.handleListItems)
		mediaGroup.POST("/items", m.handleCreateItem)
		mediaGroup.GET("/items/:id", m.handleGetItem)
		mediaGroup.DELETE("/items/:id", m.handleDeleteItem)
		mediaGroup.GET("/items/:id/sources", m.handleGetSources)
		mediaGroup.GET("/items/:id/image", m.handleGetItemImage)
	}
}

func (m *Module) handleListItems(c *gin.Context) {
	var rows []database.MediaItem
	q := m.db.Order("name")
	if kind := c.Query("kind"); kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

func (m *Module) handleGetItem(c *gin.Context) {
	item, err := m.Item(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (m *Module) handleGetSources(c *gin.Context) {
	sources, err := m.Sources(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

// handleGetItemImage serves an item's primary artwork. The tag query
// parameter only busts renderer caches; the stored path is authoritative.
func (m *Module) handleGetItemImage(c *gin.Context) {
	var row database.MediaItem
	if err := m.db.First(&row, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrItemNotFound.Error()})
		return
	}
	if row.ArtworkPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "item has no artwork"})
		return
	}
	c.File(row.ArtworkPath)
}

func (m *Module) handleCreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item := database.MediaItem{
		ID:              utils.GenerateUUID(),
		ParentID:        req.ParentID,
		Name:            req.Name,
		Kind:            req.Kind,
		IsFolder:        req.IsFolder,
		PrimaryImageTag: req.PrimaryImageTag,
		ArtworkPath:     req.ArtworkPath,
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		for _, s := range req.Sources {
			protocol := s.Protocol
			if protocol == "" {
				protocol = "file"
			}
			source := database.MediaSource{
				ID:           utils.GenerateUUID(),
				MediaItemID:  item.ID,
				Path:         s.Path,
				Protocol:     protocol,
				Container:    s.Container,
				Size:         s.Size,
				RunTimeTicks: s.RunTimeTicks,
				Bitrate:      s.Bitrate,
				Timestamp:    s.Timestamp,
			}
			if err := tx.Create(&source).Error; err != nil {
				return err
			}
			for _, st := range s.Streams {
				row := database.MediaStreamRow{
					MediaSourceID: source.ID,
					StreamIndex:   st.Index,
					Type:          st.Type,
					Codec:         st.Codec,
					Width:         st.Width,
					Height:        st.Height,
					BitDepth:      st.BitDepth,
					Profile:       st.Profile,
					Level:         st.Level,
					FrameRate:     st.FrameRate,
					Channels:      st.Channels,
					SampleRate:    st.SampleRate,
					BitRate:       st.BitRate,
					Language:      st.Language,
					IsDefault:     st.IsDefault,
					IsForced:      st.IsForced,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	m.logger.Info("Registered library item", "id", item.ID, "name", item.Name)
	c.JSON(http.StatusCreated, item)
}

func (m *Module) handleDeleteItem(c *gin.Context) {
	id := c.Param("id")

	err := m.db.Transaction(func(tx *gorm.DB) error {
		var sources []database.MediaSource
		if err := tx.Where("media_item_id = ?", id).Find(&sources).Error; err != nil {
			return err
		}
		for _, s := range sources {
			if err := tx.Where("media_source_id = ?", s.ID).Delete(&database.MediaStreamRow{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("media_item_id = ?", id).Delete(&database.MediaSource{}).Error; err != nil {
			return err
		}
		return tx.Delete(&database.MediaItem{}, "id = ?", id).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
