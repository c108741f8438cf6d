// SPDX-License-Identifier: MIT

// Package hub pushes state-change events to connected websocket clients.
// Broadcasts never block a mutation: slow clients get disconnected, not
// waited on.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Message is the wire envelope every broadcast uses.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to all connected clients.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// New builds an empty hub.
func New() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Panel and API share the origin; same-host tools may omit it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.WithComponent("hub"),
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until
// its connection dies.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketClients.Set(float64(n))
	h.log.Info().Str("event", "hub.client_connected").Str("client_id", c.id).Int("clients", n).Msg("observer connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// Broadcast serializes an event for every connected client. Clients
// whose buffers are full are dropped.
func (h *Hub) Broadcast(event string, data any) {
	raw, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("event_name", event).Msg("broadcast payload not serializable")
		return
	}

	h.mu.Lock()
	var stale []*client
	for _, c := range h.clients {
		select {
		case c.send <- raw:
		default:
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		h.dropLocked(c, "send buffer full")
	}
	h.mu.Unlock()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.dropLocked(c, "hub shutting down")
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) dropLocked(c *client, reason string) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	metrics.WebsocketClients.Set(float64(len(h.clients)))
	h.log.Info().
		Str("event", "hub.client_dropped").
		Str("client_id", c.id).
		Str("reason", reason).
		Msg("observer disconnected")
}

func (h *Hub) drop(c *client, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c, reason)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.drop(c, "read loop ended")
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients only listen; reads exist to surface closes and pongs.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
