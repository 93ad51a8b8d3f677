package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to the LAN; same-origin checks would break the
		// local dashboard without adding real protection here.
		return true
	},
}

// Handler upgrades /ws requests. The optional camera query parameter scopes
// the feed to one camera.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("camera")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.hub.Register(conn, cameraID)
	go h.readPump(conn)
}

// readPump drains client messages and detects disconnects. Clients do not
// send anything meaningful; pongs keep the connection alive.
func (h *Handler) readPump(conn *websocket.Conn) {
	defer h.hub.Unregister(conn)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
