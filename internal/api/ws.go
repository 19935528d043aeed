package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"glidetrack/pkg/core"
)

const (
	writeWait  = 10 * time.Second
	clientSend = 8 // queued frames before a client is dropped
)

var upgrader = websocket.Upgrader{
	// The dashboard is served from other local origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub pushes status snapshots to connected websocket clients. New clients
// receive the latest snapshot on connect.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    []byte
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// Broadcast queues st for every client. Clients that fall behind are dropped.
func (h *Hub) Broadcast(st core.Status) {
	data, err := json.Marshal(st)
	if err != nil {
		slog.Error("Failed to encode status", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("Dropping slow websocket client", "remote", c.conn.RemoteAddr())
			h.remove(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// HandleWS upgrades the connection and streams status until the client leaves.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientSend)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	go c.writeLoop()

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	h.remove(c)
	h.mu.Unlock()
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("Websocket write failed", "error", err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
