package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/castserve/castserve/internal/utils"
)

// EventBus delivers published events to subscribed handlers.
type EventBus interface {
	// Publish delivers an event, blocking while the buffer is full.
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers an event without blocking; events are dropped
	// when the buffer is full.
	PublishAsync(event Event)

	// Subscribe registers a handler for the given event types. An empty
	// type list receives every event.
	Subscribe(handler EventHandler, types ...EventType) (*Subscription, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(subscriptionID string) error

	// Start begins event dispatch.
	Start() error

	// Stop halts dispatch after draining buffered events.
	Stop(ctx context.Context) error
}

// bus implements EventBus with a single dispatch goroutine consuming a
// buffered channel, so handlers for one event never interleave with handlers
// for the next.
type bus struct {
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	running       bool

	eventCh chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEventBus creates an event bus with the given buffer size.
func NewEventBus(logger hclog.Logger, bufferSize int) EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &bus{
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		eventCh:       make(chan Event, bufferSize),
		stopCh:        make(chan struct{}),
	}
}

func (b *bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("event bus is already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})

	b.wg.Add(1)
	go b.dispatch()

	b.logger.Debug("event bus started", "buffer", cap(b.eventCh))
	return nil
}

func (b *bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	if !b.isRunning() {
		return fmt.Errorf("event bus is not running")
	}
	b.stamp(&event)

	select {
	case b.eventCh <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *bus) PublishAsync(event Event) {
	if !b.isRunning() {
		return
	}
	b.stamp(&event)

	select {
	case b.eventCh <- event:
	default:
		b.logger.Warn("event bus buffer full, dropping event", "type", event.Type)
	}
}

func (b *bus) Subscribe(handler EventHandler, types ...EventType) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler must not be nil")
	}

	sub := &Subscription{
		ID:      utils.GenerateUUID(),
		Types:   types,
		handler: handler,
	}

	b.mu.Lock()
	b.subscriptions[sub.ID] = sub
	b.mu.Unlock()

	return sub, nil
}

func (b *bus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscriptions[subscriptionID]; !ok {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(b.subscriptions, subscriptionID)
	return nil
}

func (b *bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventCh:
			b.deliver(event)
		case <-b.stopCh:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case event := <-b.eventCh:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (b *bus) deliver(event Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.Matches(event) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", event.Type, "panic", r)
				}
			}()
			sub.handler(event)
		}()
	}
}

func (b *bus) isRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *bus) stamp(event *Event) {
	if event.ID == "" {
		event.ID = utils.GenerateUUID()
	}
}
