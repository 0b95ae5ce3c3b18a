package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	sendBuffer = 64
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event  string          `json:"event"`
	PollID *uint32         `json:"poll_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Broker carries encoded messages between instances.
type Broker interface {
	PublishEvent(raw []byte) error
}

// Hub keeps the set of connected clients and fans ledger events out to them.
// With a broker set, Publish goes through Redis and every instance (this one included)
// delivers on receipt, so local clients see each event exactly once.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	broker  Broker
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub. broker may be nil for single-instance deployments.
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		broker:  broker,
		logger:  logger,
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.Int("clients", n))
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.Int("clients", n))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish announces an event. pollID scopes it to clients following that poll; nil reaches everyone.
func (h *Hub) Publish(event string, pollID *uint32, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, PollID: pollID, Data: data}

	if h.broker != nil {
		raw, err := json.Marshal(msg)
		if err == nil {
			if err = h.broker.PublishEvent(raw); err == nil {
				return
			}
		}
		h.logger.Warn("broker publish failed, delivering locally", zap.String("event", event), zap.Error(err))
	}
	h.broadcast(msg)
}

// Deliver decodes a message received from the broker and sends it to local clients.
func (h *Hub) Deliver(raw []byte) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Debug("invalid broker message", zap.Error(err))
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.follows(msg.PollID) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}
