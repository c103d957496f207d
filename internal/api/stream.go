package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 16
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Hub streams notifications to websocket clients. Slow clients lose notifications
// instead of blocking the publisher.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	guild string
	send  chan Notification
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Broadcast queues n for every client watching its guild.
func (h *Hub) Broadcast(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.guild != "" && c.guild != n.GuildID {
			continue
		}
		select {
		case c.send <- n:
		default:
			slog.Warn("api: websocket client too slow, notification dropped", "event", n.Event)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
}

// ServeWS upgrades the request and streams notifications until the client goes away.
// The optional guild query parameter limits the stream to one guild.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	cl := &client{guild: c.Query("guild"), send: make(chan Notification, clientBuffer)}
	h.add(cl)
	defer h.remove(cl)

	// the reader only notices the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case n := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(n); err != nil {
				slog.DebugContext(c.Request.Context(), "api: websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
