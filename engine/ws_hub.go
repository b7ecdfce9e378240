package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rtkit/periodic/engine/supervisor"
)

const maxWSConnections = 100

// SnapshotHub broadcasts engine snapshots to websocket observers on the
// metrics listener. Single broadcaster pattern prevents N duplicate
// tickers.
type SnapshotHub struct {
	sup        *supervisor.Supervisor
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex

	upgrader websocket.Upgrader
}

// NewSnapshotHub creates a hub reading state from the supervisor.
func NewSnapshotHub(sup *supervisor.Supervisor) *SnapshotHub {
	return &SnapshotHub{
		sup:        sup,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Run starts the hub's broadcast loop.
func (h *SnapshotHub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("websocket observer rejected: cap (%d) reached", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *SnapshotHub) broadcast() {
	snap := h.sup.GetSnapshot()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(replyWriteTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			go h.Unregister(conn)
		}
	}
}

func (h *SnapshotHub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Unregister removes an observer connection. A no-op once the hub has
// shut down, so late read pumps do not hang.
func (h *SnapshotHub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// ServeHTTP upgrades an observer connection and parks a read pump on it so
// peer closes are noticed.
func (h *SnapshotHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.Unregister(conn)
				return
			}
		}
	}()
}
