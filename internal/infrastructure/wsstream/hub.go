// Package wsstream pushes the event bus's live traffic out over
// WebSocket connections, so a dashboard can watch decisions, tool
// results, and goal triggers as they happen instead of polling the
// status API.
package wsstream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard may be served from a different origin
	},
}

// FrameType distinguishes control frames from event frames on the wire.
type FrameType string

const (
	FrameTypeEvent FrameType = "event"
	FrameTypePing  FrameType = "ping"
	FrameTypePong  FrameType = "pong"
)

// Frame is one WebSocket message, either a keepalive or a forwarded
// runtime event.
type Frame struct {
	Type      FrameType    `json:"type"`
	Event     *entity.Event `json:"event,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// Client is one subscribed WebSocket connection. filter restricts which
// event types are forwarded to it; an empty filter means every event.
type Client struct {
	ID     string
	filter string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *zap.Logger
}

// Hub fans out events published on the bus to every connected client
// whose filter matches.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *entity.Event
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub builds a Hub and subscribes it to every event the bus carries.
// Run must be called to start forwarding.
func NewHub(bus *eventbus.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *entity.Event, 256),
		logger:     logger.With(zap.String("component", "wsstream-hub")),
	}
	if bus != nil {
		bus.Subscribe("*", func(ctx context.Context, event *entity.Event) error {
			select {
			case h.broadcast <- event:
			default:
				h.logger.Warn("dropping event for slow websocket hub", zap.String("event_id", event.ID))
			}
			return nil
		})
	}
	return h
}

// Run drives the hub's registration and fan-out loop until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.logger.Info("websocket client connected", zap.String("client_id", c.ID), zap.String("filter", c.filter))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", zap.String("client_id", c.ID))
		case event := <-h.broadcast:
			h.dispatch(event)
		}
	}
}

func (h *Hub) dispatch(event *entity.Event) {
	frame := Frame{Type: FrameTypeEvent, Event: event, Timestamp: time.Now().Unix()}
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("marshal event frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.filter != "" && c.filter != "*" && c.filter != event.Type {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping frame", zap.String("client_id", c.ID))
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades incoming HTTP requests to WebSocket connections bound
// to a Hub.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler builds a Handler serving connections against hub.
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, logger: logger}
}

// ServeWS upgrades the request and registers a new streaming client. The
// optional "event_type" query parameter restricts the stream to one
// event type; omitted or "*" streams everything.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = time.Now().Format("20060102150405.000000000")
	}

	client := &Client{
		ID:     clientID,
		filter: r.URL.Query().Get("event_type"),
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h.hub,
		logger: h.logger,
	}

	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
