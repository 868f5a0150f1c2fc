package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/playsem-core/internal/infrastructure/config"
	"github.com/nerrad567/playsem-core/internal/infrastructure/logging"
	"github.com/nerrad567/playsem-core/internal/ingress"
)

// Broadcast channels a client can subscribe to.
const (
	ChannelActivity = "activity"
	ChannelTimeline = "timeline"
	ChannelDevices  = "devices"
)

// Hub tracks live WebSocket clients and fans events out to the ones
// subscribed to each channel.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	// Set by the server. When nil, effect and control messages are refused.
	ingester   ingress.Ingester
	controller ingress.Controller
	onIngest   func(protocol string, err error)
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	gone := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range gone {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", c.id, "clients", n)
}

// Unregister removes c and closes its outbound queue. Calling it twice is
// harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.shutdown()
	h.logger.Debug("websocket client disconnected", "client_id", c.id, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload as an event on channel. Slow clients whose
// queue is full miss the event rather than stalling the caller.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(time.Now()),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}
	for _, c := range h.subscribers(channel) {
		c.enqueue(data)
	}
}

func (h *Hub) subscribers(channel string) []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			out = append(out, c)
		}
	}
	return out
}

func wsTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
