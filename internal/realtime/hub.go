package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains event_id -> set of connections and team_id -> connection.
// Uses Redis pub/sub for horizontal scaling: broadcasts are published and the
// per-event subscription delivers them to local clients on every instance.
type Hub struct {
	events map[uuid.UUID]map[string]*Client // eventID -> clientID -> client
	teams  map[uuid.UUID]*Client            // teamID -> most recently subscribed client
	subs   map[uuid.UUID]func()             // cancel Redis subscription per event
	mu     sync.RWMutex
	logger *zap.Logger
	pub    EventPublisher
	sub    EventSubscriber
}

// EventPublisher publishes an event message for every instance.
type EventPublisher interface {
	PublishEvent(eventID uuid.UUID, event string, payload []byte) error
}

// EventSubscriber subscribes to an event channel and invokes handler for incoming messages.
type EventSubscriber interface {
	SubscribeEvent(eventID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub EventPublisher, sub EventSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		events: make(map[uuid.UUID]map[string]*Client),
		teams:  make(map[uuid.UUID]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Subscribe associates c with eventID and, optionally, teamID. A previous
// association of c is replaced: a connection belongs to one event at a time.
// The Redis subscription is opened outside the lock; a failed attempt is
// retried by the next Subscribe for that event.
func (h *Hub) Subscribe(c *Client, eventID uuid.UUID, teamID *uuid.UUID) {
	h.mu.Lock()
	h.detachLocked(c)
	if h.events[eventID] == nil {
		h.events[eventID] = make(map[string]*Client)
	}
	h.events[eventID][c.ID] = c
	c.eventID = &eventID
	c.teamID = nil
	if teamID != nil {
		id := *teamID
		h.teams[id] = c
		c.teamID = &id
	}
	_, subscribed := h.subs[eventID]
	h.mu.Unlock()

	if !subscribed {
		h.openSubscription(eventID)
	}
	h.logger.Debug("client subscribed", zap.String("client_id", c.ID), zap.String("event_id", eventID.String()))
}

func (h *Hub) openSubscription(eventID uuid.UUID) {
	if h.sub == nil {
		return
	}
	cancel, err := h.sub.SubscribeEvent(eventID, func(event string, payload []byte) {
		h.deliver(eventID, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("redis subscribe failed, event delivered locally", zap.String("event_id", eventID.String()), zap.Error(err))
		return
	}

	h.mu.Lock()
	_, dup := h.subs[eventID]
	keep := !dup && len(h.events[eventID]) > 0
	if keep {
		h.subs[eventID] = cancel
	}
	h.mu.Unlock()
	if !keep {
		cancel()
	}
}

// Unregister removes c from every fan-out set. Cancels the Redis subscription
// when the last local client of an event leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.detachLocked(c)
	h.mu.Unlock()
	h.logger.Debug("client left", zap.String("client_id", c.ID))
}

func (h *Hub) detachLocked(c *Client) {
	if c.teamID != nil {
		if cur, ok := h.teams[*c.teamID]; ok && cur == c {
			delete(h.teams, *c.teamID)
		}
		c.teamID = nil
	}
	if c.eventID == nil {
		return
	}
	eventID := *c.eventID
	c.eventID = nil
	m, ok := h.events[eventID]
	if !ok {
		return
	}
	delete(m, c.ID)
	if len(m) > 0 {
		return
	}
	delete(h.events, eventID)
	if cancel, ok := h.subs[eventID]; ok {
		cancel()
		delete(h.subs, eventID)
	}
}

// BroadcastToEvent delivers to every connection subscribed to eventID, on all
// instances when Redis is configured. Best effort: no retry, no persistence.
func (h *Hub) BroadcastToEvent(eventID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	if h.pub != nil {
		err := h.pub.PublishEvent(eventID, event, data)
		if err == nil && h.subscribed(eventID) {
			return
		}
		if err != nil {
			h.logger.Warn("redis publish failed, delivering locally", zap.String("event", event), zap.Error(err))
		}
	}
	h.deliver(eventID, event, data)
}

// deliver sends to local clients of eventID only.
func (h *Hub) deliver(eventID uuid.UUID, event string, data []byte) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.events[eventID]))
	for _, c := range h.events[eventID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(msg)
	}
}

// SendToTeam delivers to the team's most recently subscribed local connection.
// Reports false when the team has none or its buffer is full.
func (h *Hub) SendToTeam(teamID uuid.UUID, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	h.mu.RLock()
	c, ok := h.teams[teamID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return false
	}
	return c.trySend(WSMessage{Event: event, Data: data})
}

// subscribed reports whether this instance receives eventID's channel.
func (h *Hub) subscribed(eventID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[eventID]
	return ok
}

func (h *Hub) connectionCount(eventID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events[eventID])
}

func (h *Hub) teamOnline(teamID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.teams[teamID]
	return ok
}

// Close cancels every Redis subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
}
