// Package logger provides the process-wide hclog root logger.
package logger

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.RWMutex
	root hclog.Logger
)

// Init configures the root logger. Called once at startup; subsequent Named
// calls derive from the configured root.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	root = hclog.New(&hclog.LoggerOptions{
		Name:   "castserve",
		Level:  hclog.LevelFromString(level),
		Output: os.Stdout,
	})
}

// Root returns the root logger, initializing it with defaults if needed.
func Root() hclog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l != nil {
		return l
	}

	Init("info")
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a child logger for the given subsystem.
func Named(name string) hclog.Logger {
	return Root().Named(name)
}
