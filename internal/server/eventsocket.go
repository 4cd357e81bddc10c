package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/castserve/castserve/internal/events"
)

// eventFeed pushes bus events to websocket subscribers. Slow clients are
// dropped rather than allowed to stall the feed.
type eventFeed struct {
	logger   hclog.Logger
	bus      events.EventBus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan events.Event
	subID   string
	done    bool
}

func newEventFeed(logger hclog.Logger, bus events.EventBus) *eventFeed {
	f := &eventFeed{
		logger: logger,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan events.Event),
	}

	if bus != nil {
		sub, err := bus.Subscribe(f.broadcast)
		if err != nil {
			logger.Error("Failed to subscribe event feed", "error", err)
		} else {
			f.subID = sub.ID
		}
	}
	return f
}

func (f *eventFeed) handleWebSocket(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan events.Event, 32)

	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[conn] = ch
	f.mu.Unlock()

	f.logger.Debug("event feed client connected", "remote", conn.RemoteAddr())

	go f.writeLoop(conn, ch)
	f.readLoop(conn)
}

// readLoop consumes control frames until the client goes away.
func (f *eventFeed) readLoop(conn *websocket.Conn) {
	defer f.dropClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *eventFeed) writeLoop(conn *websocket.Conn, ch <-chan events.Event) {
	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			f.dropClient(conn)
			return
		}
	}
	conn.Close()
}

func (f *eventFeed) broadcast(event events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn, ch := range f.clients {
		select {
		case ch <- event:
		default:
			// Client is not keeping up.
			f.logger.Debug("dropping slow event feed client", "remote", conn.RemoteAddr())
			delete(f.clients, conn)
			close(ch)
		}
	}
}

func (f *eventFeed) dropClient(conn *websocket.Conn) {
	f.mu.Lock()
	ch, ok := f.clients[conn]
	if ok {
		delete(f.clients, conn)
	}
	f.mu.Unlock()

	if ok {
		close(ch)
	}
	conn.Close()
}

func (f *eventFeed) close() {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	clients := f.clients
	f.clients = make(map[*websocket.Conn]chan events.Event)
	f.mu.Unlock()

	if f.bus != nil && f.subID != "" {
		f.bus.Unsubscribe(f.subID)
	}
	for conn, ch := range clients {
		close(ch)
		conn.Close()
	}
}
