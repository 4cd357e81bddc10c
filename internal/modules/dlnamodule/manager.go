package dlnamodule

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/castserve/castserve/internal/config"
	"github.com/castserve/castserve/internal/events"
)

// Manager owns the active play-to controllers, at most one per renderer,
// and the watchdog that reaps sessions whose renderer went quiet.
type Manager struct {
	logger   hclog.Logger
	reporter ProgressReporter
	eventBus events.EventBus
	cfg      config.PlayToConfig

	mu          sync.RWMutex
	controllers map[string]*Controller

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a play-to manager and starts its watchdog.
func NewManager(logger hclog.Logger, reporter ProgressReporter, eventBus events.EventBus, cfg config.PlayToConfig) *Manager {
	m := &Manager{
		logger:      logger,
		reporter:    reporter,
		eventBus:    eventBus,
		cfg:         cfg,
		controllers: make(map[string]*Controller),
		stopCh:      make(chan struct{}),
	}

	m.wg.Add(1)
	go m.watchdogLoop()

	return m
}

// StartSession creates a controller for the renderer. A renderer can carry
// only one session at a time.
func (m *Manager) StartSession(device DeviceInfo, transport DeviceTransport, sessionID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.controllers[device.ID]; exists {
		return nil, ErrDeviceBusy
	}

	c := NewController(m.logger, device, transport, m.reporter, sessionID, ControllerConfig{
		PollInterval:    m.cfg.PollInterval,
		NearEndFraction: m.cfg.NearEndFraction,
		CommandQueue:    m.cfg.EventQueueSize,
	})
	m.controllers[device.ID] = c

	m.logger.Info("Started play-to session",
		"device", device.FriendlyName,
		"sessionID", sessionID)
	m.publish(events.EventPlayToStarted, device, sessionID)
	return c, nil
}

// Controller returns the active controller for a renderer.
func (m *Manager) Controller(deviceID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.controllers[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return c, nil
}

// Controllers returns the active controllers ordered by device id.
func (m *Manager) Controllers() []*Controller {
	m.mu.RLock()
	out := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Device().ID < out[j].Device().ID })
	return out
}

// EndSession shuts down the controller for a renderer.
func (m *Manager) EndSession(deviceID string) error {
	m.mu.Lock()
	c, ok := m.controllers[deviceID]
	if ok {
		delete(m.controllers, deviceID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrDeviceNotFound
	}

	c.Close()
	m.logger.Info("Ended play-to session", "device", c.Device().FriendlyName)
	m.publish(events.EventPlayToStopped, c.Device(), c.SessionID())
	return nil
}

// NotifyDeviceLeft handles an ssdp:byebye. The announced USN is matched by
// substring in both directions because renderers announce per-service USNs
// that embed the root device identifier.
func (m *Manager) NotifyDeviceLeft(usn string) {
	if strings.TrimSpace(usn) == "" {
		return
	}

	m.mu.RLock()
	var left []string
	for id, c := range m.controllers {
		deviceUSN := c.Device().USN
		if deviceUSN == "" {
			continue
		}
		if strings.Contains(usn, deviceUSN) || strings.Contains(deviceUSN, usn) {
			left = append(left, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range left {
		m.logger.Info("Renderer left the network, ending session", "device", id)
		if err := m.EndSession(id); err != nil && err != ErrDeviceNotFound {
			m.logger.Warn("failed to end session for departed renderer", "error", err)
		}
	}
}

// Shutdown stops the watchdog and closes every controller.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}

func (m *Manager) watchdogLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle ends sessions whose renderer has not responded within the
// inactivity timeout.
func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.InactivityTimeout)

	m.mu.RLock()
	var idle []string
	for id, c := range m.controllers {
		if c.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Info("Reaping inactive play-to session", "device", id)
		if err := m.EndSession(id); err != nil && err != ErrDeviceNotFound {
			m.logger.Warn("failed to reap inactive session", "error", err)
		}
	}
}

func (m *Manager) publish(eventType events.EventType, device DeviceInfo, sessionID string) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.PublishAsync(events.NewEvent(eventType, "playto", map[string]interface{}{
		"device_id":   device.ID,
		"device_name": device.FriendlyName,
		"session_id":  sessionID,
	}))
}
