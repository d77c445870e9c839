package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/quakewatch/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 32
)

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub broadcasts notifications to WebSocket clients. Clients that cannot keep
// up are dropped rather than slowing the pipeline.
type Hub struct {
	upgrader websocket.Upgrader
	clients  map[*hubClient]struct{}
	closed   bool
	mu       sync.Mutex
}

// NewHub creates a hub. allowedOrigins restricts browser origins; "*" allows
// all, and an empty list allows same-host requests only.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{clients: make(map[*hubClient]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// ServeHTTP upgrades the request and registers the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade to WebSocket from %s: %v", r.RemoteAddr, err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientSendSize)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Debug("WebSocket client connected: %s", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify broadcasts n to every connected client.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logger.Warn("Dropping slow WebSocket client")
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
