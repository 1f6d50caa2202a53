package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/logging"
)

// Hub fans records out to WebSocket clients by channel. It satisfies
// output.Broadcaster, so websocket outputs publish straight into it.
//
// A client that cannot keep up loses frames rather than slowing the
// executor; Dropped counts them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	dropped atomic.Uint64
	onCount func(int)
}

// NewHub creates an empty hub. It accepts clients once a server routes
// connections to it and disconnects them all when Run's context ends.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// OnClientCount registers fn to receive the client count after every
// connect and disconnect. Call it before the hub accepts clients.
func (h *Hub) OnClientCount(fn func(int)) {
	h.onCount = fn
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
	if len(clients) > 0 {
		h.countChanged(0)
	}
}

// Broadcast encodes payload once and queues it for every client
// subscribed to channel. Frames a slow client cannot take are dropped
// and counted; only an unencodable payload is an error.
func (h *Hub) Broadcast(channel string, payload any) error {
	data, err := json.Marshal(Frame{
		Type:    FrameRecord,
		Channel: channel,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:    payload,
	})
	if err != nil {
		return fmt.Errorf("encoding websocket frame: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.countChanged(n)
	h.logger.Debug("websocket client connected", "clients", n)
}

// remove detaches c and closes its queue. Removing a client twice, or
// after Run has shut the hub down, is a no-op.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.shutdown()
	h.countChanged(n)
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) countChanged(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}
