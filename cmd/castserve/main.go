package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castserve/castserve/internal/config"
	"github.com/castserve/castserve/internal/database"
	"github.com/castserve/castserve/internal/events"
	"github.com/castserve/castserve/internal/logger"
	"github.com/castserve/castserve/internal/modules/modulemanager"
	"github.com/castserve/castserve/internal/server"
)

func main() {
	configPath := os.Getenv("CASTSERVE_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./castserve.yaml"); err == nil {
			configPath = "./castserve.yaml"
		}
	}
	if err := config.Load(configPath); err != nil {
		logger.Init("info")
		logger.Root().Error("Failed to load configuration, using defaults",
			"path", configPath, "error", err)
	}
	cfg := config.Get()
	logger.Init(cfg.Logging.Level)
	log := logger.Root()

	if err := database.Initialize(cfg.Database.Path); err != nil {
		log.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	bus := events.NewEventBus(logger.Named("events"), 256)
	if err := bus.Start(); err != nil {
		log.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	events.SetGlobalEventBus(bus)

	if err := modulemanager.LoadAll(database.GetDB()); err != nil {
		log.Error("Failed to load modules", "error", err)
		os.Exit(1)
	}

	srv := server.New()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	modulemanager.Shutdown()
	if err := bus.Stop(ctx); err != nil {
		log.Warn("Event bus shutdown incomplete", "error", err)
	}

	log.Info("Shutdown complete")
}
