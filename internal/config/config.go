// Package config holds the complete application configuration, loaded from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Playback PlaybackConfig `yaml:"playback" json:"playback"`
	PlayTo   PlayToConfig   `yaml:"playto" json:"playto"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// PlaybackConfig holds session registry settings.
type PlaybackConfig struct {
	// SessionTimeout is the inactivity window after which a session is
	// considered expired and eligible for reaping.
	SessionTimeout time.Duration `yaml:"session_timeout" json:"session_timeout"`

	// CleanupInterval is how often expired sessions are reaped.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// DefaultMaxStreamingBitrate applies when neither the request nor the
	// device profile supplies a ceiling, in bits per second.
	DefaultMaxStreamingBitrate int `yaml:"default_max_streaming_bitrate" json:"default_max_streaming_bitrate"`
}

// PlayToConfig holds remote playback controller settings. The completion
// heuristic values are tunable; device position reporting near end-of-media
// is unreliable and the defaults reflect observed renderer behavior.
type PlayToConfig struct {
	// WatchdogInterval is how often each controller checks device liveness.
	WatchdogInterval time.Duration `yaml:"watchdog_interval" json:"watchdog_interval"`

	// InactivityTimeout ends a controller session when no device activity
	// has been observed for this long.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" json:"inactivity_timeout"`

	// PollInterval is how often each controller polls the device for
	// transport state and position.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// NearEndFraction treats a reported stop position within this fraction
	// of the known duration as played-to-completion.
	NearEndFraction float64 `yaml:"near_end_fraction" json:"near_end_fraction"`

	// TransportTimeout bounds every outbound device transport call.
	TransportTimeout time.Duration `yaml:"transport_timeout" json:"transport_timeout"`

	// EventQueueSize is the per-controller device event queue depth.
	EventQueueSize int `yaml:"event_queue_size" json:"event_queue_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

var (
	mu  sync.RWMutex
	cfg *Config
)

// Default returns a configuration with all default values set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8096,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Path: "./data/castserve.db",
		},
		Playback: PlaybackConfig{
			SessionTimeout:             30 * time.Minute,
			CleanupInterval:            5 * time.Minute,
			DefaultMaxStreamingBitrate: 8_000_000,
		},
		PlayTo: PlayToConfig{
			WatchdogInterval:  60 * time.Second,
			InactivityTimeout: 120 * time.Second,
			PollInterval:      time.Second,
			NearEndFraction:   0.10,
			TransportTimeout:  10 * time.Second,
			EventQueueSize:    16,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path (optional) and applies
// environment overrides. The result becomes the process-wide configuration.
func Load(path string) error {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(c)

	mu.Lock()
	cfg = c
	mu.Unlock()
	return nil
}

// Get returns the current configuration, loading defaults if Load was never
// called.
func Get() *Config {
	mu.RLock()
	c := cfg
	mu.RUnlock()
	if c != nil {
		return c
	}

	mu.Lock()
	defer mu.Unlock()
	if cfg == nil {
		cfg = Default()
	}
	return cfg
}

// Set replaces the process-wide configuration. Intended for tests.
func Set(c *Config) {
	mu.Lock()
	cfg = c
	mu.Unlock()
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("CASTSERVE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CASTSERVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CASTSERVE_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CASTSERVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
