package taskstream

import (
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// conn is one server-side event channel connection.
type conn struct {
	ws  *websocket.Conn
	hub *hub

	mu     sync.Mutex
	send   chan []byte
	closed bool

	// tasks holds the task ids this connection is joined to.
	// Guarded by hub.mu, not conn.mu.
	tasks map[string]struct{}
}

func newConn(ws *websocket.Conn, h *hub) *conn {
	return &conn{
		ws:    ws,
		hub:   h,
		send:  make(chan []byte, 256),
		tasks: make(map[string]struct{}),
	}
}

// enqueue queues data for the write pump. A peer that cannot keep up is
// disconnected rather than stalling every other task on the hub: dropping
// individual events could swallow a terminal one and leave the subscriber
// waiting forever, while a closed connection surfaces as a read failure
// it can react to.
func (c *conn) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("closing connection, send buffer full")
		c.closed = true
		close(c.send)
	}
}

func (c *conn) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.logger.Error("failed to encode channel message", zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump consumes client messages until the connection dies. The only
// message a client sends is join.
func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg JoinMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("ignoring malformed channel message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case EventJoin:
			if msg.TaskID == "" {
				c.enqueueJSON(&ErrorEvent{Type: EventError, Message: "No task_id provided"})
				continue
			}
			c.hub.join(c, msg.TaskID)
		default:
			c.hub.logger.Debug("ignoring unexpected channel message",
				zap.String("type", string(msg.Type)))
		}
	}
}

// writePump writes queued messages to the websocket until the send
// channel is closed.
func (c *conn) writePump() {
	defer c.ws.Close()

	for data := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
