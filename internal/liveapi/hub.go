// Package liveapi exposes an optional HTTP+WebSocket server for
// driving analyses and watching solutions stream in as they are
// found, built on a Gin router, a gorilla/websocket broadcast hub,
// and a per-IP rate limiter.
package liveapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rawblock/joinmarket-unmix/internal/solution"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local operator dashboard, not public-facing
	},
}

// EventKind enumerates the states a live analysis run broadcasts as it
// progresses from fetch through enumeration to completion.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventSolution     EventKind = "solution"
	EventError        EventKind = "error"
	EventArchiveError EventKind = "archive-error"
	EventCompleted    EventKind = "completed"
)

// ProgressEvent is broadcast to every connected websocket client each
// time an in-flight analysis changes state: a newly-extracted
// solution, a fetch or solver error, or run completion.
type ProgressEvent struct {
	Txid     string             `json:"txid"`
	Event    EventKind          `json:"event"`
	Solution *solution.Solution `json:"solution,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Hub maintains the set of active websocket clients and broadcasts
// ProgressEvents to all of them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan ProgressEvent
	mutex     sync.Mutex
}

// NewHub returns an idle Hub; call Run in its own goroutine to start
// draining the broadcast channel.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan ProgressEvent, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast channel, forever. Intended to run in its
// own goroutine for the lifetime of the process.
func (h *Hub) Run() {
	for evt := range h.broadcast {
		message, err := json.Marshal(evt)
		if err != nil {
			log.Printf("liveapi: failed to encode progress event: %v", err)
			continue
		}
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("liveapi: websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades the request to a websocket and registers the
// connection for broadcasts until it disconnects.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("liveapi: failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()
	log.Printf("liveapi: client connected, total %d", len(h.clients))

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("liveapi: client disconnected, total %d", len(h.clients))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("liveapi: websocket read error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast queues a progress event for delivery to every connected
// client.
func (h *Hub) Broadcast(evt ProgressEvent) {
	h.broadcast <- evt
}
