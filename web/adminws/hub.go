// Package adminws pushes live fleet snapshots to connected admin
// dashboards over a websocket, so browser tooling and other websocket
// clients see registrations, claims, and drains as they happen instead
// of polling /v1/admin/fleet.
package adminws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/flowstate/flowstate/internal/wire"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 90 * time.Second
)

// SnapshotFunc produces the current fleet view to broadcast.
type SnapshotFunc func() (wire.FleetView, error)

// Hub fans a periodic fleet snapshot out to every connected admin
// client. Unlike the duplex worker protocol it is modeled on, this is
// one-directional: clients never send anything but pongs.
type Hub struct {
	adminToken string
	snapshot   SnapshotFunc
	interval   time.Duration
	upgrader   websocket.Upgrader
	logger     *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewHub builds a Hub that broadcasts snapshot() every interval.
// adminToken, if non-empty, is required as a `?token=` query parameter
// on the websocket handshake, since browsers cannot set an
// Authorization header when opening a websocket connection.
func NewHub(adminToken string, snapshot SnapshotFunc, interval time.Duration, logger *log.Logger) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[adminws] ", log.LstdFlags)
	}
	return &Hub{
		adminToken: adminToken,
		snapshot:   snapshot,
		interval:   interval,
		logger:     logger,
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades an admin dashboard connection and registers
// it for future broadcasts.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.adminToken != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(c)

	if view, err := h.snapshot(); err == nil {
		h.sendTo(c, view)
	}
}

// readLoop drains and discards client frames, keeping the read
// deadline alive on any traffic including pongs, until the connection
// drops.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

// Run broadcasts a fresh snapshot every interval and pings every
// client every pingInterval, until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	snapshotTicker := time.NewTicker(h.interval)
	defer snapshotTicker.Stop()
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-snapshotTicker.C:
			view, err := h.snapshot()
			if err != nil {
				h.logger.Printf("snapshot: %v", err)
				continue
			}
			h.broadcast(view)
		case <-pingTicker.C:
			h.pingAll()
		}
	}
}

func (h *Hub) broadcast(view wire.FleetView) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.sendTo(c, view)
	}
}

func (h *Hub) sendTo(c *client, view wire.FleetView) {
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.conn.SetWriteDeadline(time.Time{})
	c.writeMu.Unlock()
	if err != nil {
		h.remove(c)
	}
}

func (h *Hub) pingAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.conn.WriteMessage(websocket.PingMessage, nil)
		c.conn.SetWriteDeadline(time.Time{})
		c.writeMu.Unlock()
		if err != nil {
			h.remove(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}
