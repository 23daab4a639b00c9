// Package ws pushes pipeline notifications to connected front-ends over
// WebSocket, so the presentation layer can track phase changes and poll
// progress without holding any pipeline state itself.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"clownify/internal/pipeline"
)

// Hub maintains the set of connected clients and broadcasts every pipeline
// notification to all of them. It implements pipeline.Notifier.
type Hub struct {
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan pipeline.Notification

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub constructs a hub; call Run before serving connections.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The notification stream is read-only public data.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan pipeline.Notification, 64),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("ws: client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("ws: client disconnected")
		case n := <-h.broadcast:
			payload, err := json.Marshal(n)
			if err != nil {
				h.logger.Error().Err(err).Msg("ws: marshal notification")
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
					h.logger.Warn().Err(err).Msg("ws: drop client")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify implements pipeline.Notifier. The send never blocks the pipeline;
// if the hub cannot keep up the notification is dropped.
func (h *Hub) Notify(n pipeline.Notification) {
	select {
	case h.broadcast <- n:
	default:
		h.logger.Warn().Str("phase", string(n.Phase)).Msg("ws: broadcast buffer full, dropping")
	}
}

// Handle upgrades an HTTP request to a notification stream.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws: upgrade failed")
		return
	}
	h.register <- conn
	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
