// Package server assembles the HTTP surface: the gin router, the module
// routes, the live event feed, and graceful lifecycle handling.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castserve/castserve/internal/config"
	"github.com/castserve/castserve/internal/events"
	"github.com/castserve/castserve/internal/logger"
	"github.com/castserve/castserve/internal/modules/modulemanager"

	// Import all modules to trigger their registration
	_ "github.com/castserve/castserve/internal/modules/dlnamodule"
	_ "github.com/castserve/castserve/internal/modules/mediamodule"
	_ "github.com/castserve/castserve/internal/modules/playbackmodule"
)

// Server is the HTTP server with its router and background plumbing.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	feed   *eventFeed
}

// New builds the router, wires module routes, and prepares the listener.
// The event bus must already be running.
func New() *Server {
	cfg := config.Get()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	if cfg.Server.EnableCORS {
		engine.Use(corsMiddleware())
	}

	engine.GET("/health", handleHealth)
	engine.GET("/api/system/status", handleSystemStatus)

	feed := newEventFeed(logger.Named("event-feed"), events.GetGlobalEventBus())
	engine.GET("/api/events/ws", feed.handleWebSocket)

	modulemanager.RegisterRoutes(engine)

	return &Server{
		engine: engine,
		feed:   feed,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	logger.Root().Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes the event feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.close()
	return s.http.Shutdown(ctx)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// corsMiddleware allows browser clients on other origins.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
