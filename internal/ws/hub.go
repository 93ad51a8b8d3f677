// Package ws streams alert events and scene updates to websocket clients.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeDeadline = 10 * time.Second

// Message is the envelope sent to clients.
type Message struct {
	Type      string `json:"type"` // alert | scene
	CameraID  string `json:"camera_id,omitempty"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// Hub fans messages out to connected clients, optionally filtered by camera.
// A client subscribed with an empty camera id receives everything. Failed
// writes drop the client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]string
	log     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]string),
		log:     logger.With().Str("component", "ws").Logger(),
	}
}

// Register adds a connection. cameraID filters the feed; empty means all.
func (h *Hub) Register(conn *websocket.Conn, cameraID string) {
	h.mu.Lock()
	h.clients[conn] = cameraID
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("camera_id", cameraID).Int("clients", n).Msg("ws client connected")
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends a message to every client whose filter matches.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn().Err(err).Msg("cannot marshal ws message")
		return
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.clients))
	for conn, filter := range h.clients {
		if filter == "" || msg.CameraID == "" || filter == msg.CameraID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.Unregister(conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
	h.mu.Unlock()
}
