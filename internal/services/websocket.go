package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// WebSocketMessage is the envelope of every frame in both directions.
type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outgoingMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// AckMessage is sent by clients once they have applied some events.
type AckMessage struct {
	EventIDs []uint `json:"eventIds"`
}

// Client is one websocket connection of a user.
type Client struct {
	UserID uint
	Role   models.UserRole
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	subscription string
	mu           sync.Mutex
	closed       bool
}

// push queues a frame without blocking. Slow clients drop frames and catch
// up on the replay of their next connection.
func (c *Client) push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub tracks live websocket clients and subscribes each one to the event hub.
type Hub struct {
	events     *EventHub
	logger     *logrus.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

func NewHub(events *EventHub, logger *logrus.Logger) *Hub {
	return &Hub{
		events:     events,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run owns client registration until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				h.events.Unsubscribe(client.subscription)
				client.close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{"userId": client.UserID, "role": client.Role}).Debug("websocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.events.Unsubscribe(client.subscription)
				client.close()
			}
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{"userId": client.UserID, "role": client.Role}).Debug("websocket client disconnected")
		}
	}
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func encodeEvents(events []models.DomainEvent) ([]byte, error) {
	return json.Marshal(outgoingMessage{Type: "events", Data: events})
}

// HandleWebSocket upgrades the request and streams the user's events over
// it, starting with a replay of the unprocessed ones.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID uint, role models.UserRole) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		UserID: userID,
		Role:   role,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    hub,
	}

	go client.writePump()

	sub, err := hub.events.Subscribe(r.Context(), userID, role, func(events []models.DomainEvent) {
		frame, err := encodeEvents(events)
		if err != nil {
			hub.logger.WithError(err).Error("failed to encode events")
			return
		}
		if !client.push(frame) {
			hub.logger.WithField("userId", userID).Warn("websocket send buffer full, events left for replay")
		}
	})
	if err != nil {
		hub.logger.WithError(err).Error("websocket subscribe failed")
		client.close()
		return
	}
	client.subscription = sub
	hub.register <- client

	go client.readPump()
}

// readPump reads client acknowledgements until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 << 10)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).Warn("websocket read error")
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Hub.logger.WithError(err).Debug("ignoring malformed websocket message")
			continue
		}

		switch msg.Type {
		case "ack":
			c.handleAck(msg.Data)
		case "ping":
			if frame, err := json.Marshal(outgoingMessage{Type: "pong", Data: nil}); err == nil {
				c.push(frame)
			}
		}
	}
}

func (c *Client) handleAck(data json.RawMessage) {
	var ack AckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	for _, id := range ack.EventIDs {
		if err := c.Hub.events.MarkProcessed(ctx, c.UserID, c.Role, id); err != nil {
			c.Hub.logger.WithError(err).WithField("eventId", id).Debug("ack not applied")
		}
	}
}

// writePump pumps frames from Send to the connection and keeps it alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.WithError(err).Debug("websocket write error")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
