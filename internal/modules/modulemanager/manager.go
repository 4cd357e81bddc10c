// Package modulemanager provides module registration and initialization.
package modulemanager

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/castserve/castserve/internal/logger"
)

// Module defines the interface that all modules must implement.
type Module interface {
	ID() string                // Unique identifier for the module
	Name() string              // Display name for the module
	Core() bool                // Whether this is a core module (cannot be disabled)
	Migrate(db *gorm.DB) error // Run database migrations
	Init() error               // Initialize the module
}

// RouteRegistrar is an optional interface for modules that register routes.
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// Shutdowner is an optional interface for modules that need teardown.
type Shutdowner interface {
	Shutdown() error
}

// ModuleRegistry manages module registration and initialization.
type ModuleRegistry struct {
	mu          sync.RWMutex
	modules     map[string]Module
	order       []string
	initialized bool
}

// Registry is the global module registry.
var Registry = &ModuleRegistry{
	modules: make(map[string]Module),
}

// Register adds a module to the global registry.
func Register(m Module) {
	Registry.Register(m)
}

// Register adds a module to the registry.
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Root().Warn("module registered after initialization", "module", m.ID())
	}
	if _, ok := r.modules[m.ID()]; !ok {
		r.order = append(r.order, m.ID())
	}
	r.modules[m.ID()] = m
}

// LoadAll migrates and initializes all registered modules in registration
// order.
func LoadAll(db *gorm.DB) error {
	return Registry.LoadAll(db)
}

// RegisterRoutes mounts every route-registering module on the router.
func RegisterRoutes(router *gin.Engine) {
	Registry.RegisterRoutes(router)
}

// Shutdown tears down all modules.
func Shutdown() {
	Registry.Shutdown()
}

// Get returns a registered module by id.
func Get(id string) (Module, bool) {
	return Registry.Get(id)
}

// LoadAll migrates and initializes all registered modules.
func (r *ModuleRegistry) LoadAll(db *gorm.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	log := logger.Named("modules")
	log.Info("loading modules", "count", len(r.modules))

	for _, id := range r.order {
		m := r.modules[id]
		if db != nil {
			if err := m.Migrate(db); err != nil {
				return fmt.Errorf("failed to migrate module %s: %w", id, err)
			}
		}
		if err := m.Init(); err != nil {
			if m.Core() {
				return fmt.Errorf("failed to initialize core module %s: %w", id, err)
			}
			log.Warn("module failed to initialize, continuing", "module", id, "error", err)
			continue
		}
		log.Info("module loaded", "module", id, "name", m.Name())
	}

	r.initialized = true
	return nil
}

// RegisterRoutes lets every route-registering module mount its routes.
func (r *ModuleRegistry) RegisterRoutes(router *gin.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if rr, ok := r.modules[id].(RouteRegistrar); ok {
			rr.RegisterRoutes(router)
		}
	}
}

// Shutdown tears down modules in reverse registration order.
func (r *ModuleRegistry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		if s, ok := r.modules[r.order[i]].(Shutdowner); ok {
			if err := s.Shutdown(); err != nil {
				logger.Root().Warn("module shutdown failed", "module", r.order[i], "error", err)
			}
		}
	}
}

// Get returns a registered module by id.
func (r *ModuleRegistry) Get(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}
