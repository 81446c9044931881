package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coopquest/backend/internal/metrics"
)

// newUpgrader accepts requests without an Origin header (non-browser clients)
// and browser requests whose origin allowOrigin accepts.
func newUpgrader(allowOrigin func(string) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowOrigin == nil || allowOrigin(origin)
		},
	}
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is what a session token proves about a connection.
type Identity struct {
	TeamID  uuid.UUID
	EventID uuid.UUID
}

// TokenValidator resolves a session token to an identity.
type TokenValidator func(token string) (*Identity, error)

// subscribeRequest is the payload of an inbound "subscribe" message.
type subscribeRequest struct {
	EventID string `json:"event_id"`
	TeamID  string `json:"team_id,omitempty"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	identity *Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan WSMessage
	done     chan struct{}
	logger   *zap.Logger

	// guarded by hub.mu
	eventID *uuid.UUID
	teamID  *uuid.UUID
}

func newClient(hub *Hub, conn *websocket.Conn, identity *Identity, logger *zap.Logger) *Client {
	return &Client{
		ID:       uuid.New().String(),
		identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan WSMessage, 256),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// trySend queues msg without blocking. A full buffer drops the message.
func (c *Client) trySend(msg WSMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Debug("client send buffer full, dropping", zap.String("client_id", c.ID), zap.String("event", msg.Event))
		return false
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The token is
// optional: anonymous viewers may follow an event but never claim a team.
// A valid team token subscribes the connection to its event and team right away.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, allowOrigin func(string) bool) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := newUpgrader(allowOrigin)
	return func(c *gin.Context) {
		var identity *Identity
		if token := c.Query("token"); token != "" {
			id, err := validate(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			identity = id
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, conn, identity, logger)
		metrics.RealtimeConnections.Inc()
		if identity != nil && identity.EventID != uuid.Nil {
			var teamID *uuid.UUID
			if identity.TeamID != uuid.Nil {
				teamID = &identity.TeamID
			}
			hub.Subscribe(client, identity.EventID, teamID)
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.done)
		metrics.RealtimeConnections.Dec()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "subscribe":
			c.handleSubscribe(msg.Data)
		case "ping":
			c.reply("pong", nil)
		default:
			// ignore
		}
	}
}

func (c *Client) handleSubscribe(data json.RawMessage) {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("error", map[string]string{"error": "invalid subscribe payload"})
		return
	}
	eventID, teamID, errMsg := c.resolveSubscription(req)
	if errMsg != "" {
		c.reply("error", map[string]string{"error": errMsg})
		return
	}
	c.hub.Subscribe(c, eventID, teamID)

	out := map[string]string{"event_id": eventID.String()}
	if teamID != nil {
		out["team_id"] = teamID.String()
	}
	c.reply("subscribed", out)
}

// resolveSubscription validates a subscribe request against the token. A team
// may only be claimed by a connection whose token carries that team.
func (c *Client) resolveSubscription(req subscribeRequest) (uuid.UUID, *uuid.UUID, string) {
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		return uuid.Nil, nil, "invalid event_id"
	}
	if req.TeamID == "" {
		return eventID, nil, ""
	}
	teamID, err := uuid.Parse(req.TeamID)
	if err != nil {
		return uuid.Nil, nil, "invalid team_id"
	}
	if c.identity == nil || c.identity.TeamID != teamID {
		return uuid.Nil, nil, "team_id does not match session"
	}
	if c.identity.EventID != uuid.Nil && c.identity.EventID != eventID {
		return uuid.Nil, nil, "event_id does not match session"
	}
	return eventID, &teamID, ""
}

func (c *Client) reply(event string, payload interface{}) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		data = b
	}
	c.trySend(WSMessage{Event: event, Data: data})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
