package realtime

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	PollID *uint32
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
}

// newClient builds a client without a connection; ServeWs attaches one.
func newClient(hub *Hub, pollID *uint32) *Client {
	return &Client{
		ID:     uuid.New().String(),
		PollID: pollID,
		hub:    hub,
		send:   make(chan WSMessage, sendBuffer),
	}
}

// follows reports whether an event scoped to pollID should reach this client.
func (c *Client) follows(pollID *uint32) bool {
	if c.PollID == nil || pollID == nil {
		return true
	}
	return *c.PollID == *pollID
}

// ServeWs upgrades GET /ws. An optional ?poll_id= narrows the stream to one poll.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var pollID *uint32
		if s := c.Query("poll_id"); s != "" {
			id, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid poll_id"})
				return
			}
			v := uint32(id)
			pollID = &v
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, pollID)
		client.conn = conn
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump only drains control frames; clients never send events.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
