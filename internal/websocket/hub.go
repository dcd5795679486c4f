// Package websocket pushes camera telemetry and booking events to WebSocket
// clients.
package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
)

// Message types for WebSocket communication
const (
	MessageTypeCamera  = "camera"
	MessageTypeBooking = "booking"
	MessageTypeEvent   = "event"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Options configures a Hub.
type Options struct {
	// AllowedOrigins lists accepted Origin headers; "*" accepts any. Empty
	// keeps gorilla's same-origin check.
	AllowedOrigins []string
	// Snapshot, when set, supplies the messages a client receives on connect.
	Snapshot func() []Message
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Serve runs the hub loop and satisfies suture.Service.
type Hub struct {
	opts      Options
	upgrader  websocket.Upgrader
	clients   map[*Client]bool
	broadcast chan []byte
	mu        sync.RWMutex
}

// NewHub creates a new Hub
func NewHub(opts Options) *Hub {
	h := &Hub{
		opts:      opts,
		clients:   make(map[*Client]bool),
		broadcast: make(chan []byte, 256),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
	}
	if len(opts.AllowedOrigins) > 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected: origin not allowed")
	return false
}

// Serve delivers broadcasts until ctx is canceled, then closes every client.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.closeAllClients()
			logging.Info().
				Str("component", "websocket-hub").
				Int("clients_closed", n).
				Msg("websocket hub stopped")
			return ctx.Err()

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) String() string { return "websocket-hub" }

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Inc()
	logging.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.WebSocketClients.Dec()
		logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
	}
}

// broadcastToClients sends an encoded message to every client in id order.
// A client whose buffer is full is dropped.
func (h *Hub) broadcastToClients(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped int
	for _, client := range h.sortedLocked() {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
			dropped++
		}
	}
	if dropped > 0 {
		metrics.WebSocketClients.Sub(float64(dropped))
		logging.Warn().Int("dropped", dropped).Msg("dropped slow websocket clients")
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sortedLocked()
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketClients.Sub(float64(len(clients)))
	return len(clients)
}

func (h *Hub) sortedLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(typ string, data any) {
	b, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		logging.Error().Err(err).Str("type", typ).Msg("failed to encode websocket message")
		return
	}
	select {
	case h.broadcast <- b:
	default:
		logging.Warn().Str("type", typ).Msg("websocket broadcast queue full, message dropped")
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := NewClient(h, conn)
	h.add(client)
	if h.opts.Snapshot != nil {
		for _, m := range h.opts.Snapshot() {
			b, err := json.Marshal(m)
			if err != nil {
				continue
			}
			client.trySend(b)
		}
	}
	client.Start()
}
