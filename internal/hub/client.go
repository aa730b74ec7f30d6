package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before assuming the
	// connection is dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxInboundSize bounds inbound control frames; clients only send
	// small subscribe/unsubscribe requests.
	maxInboundSize = 4096

	// sendBufferSize is the per-client outbound queue. Overflowing it
	// marks the client as too slow.
	sendBufferSize = 64
)

var (
	errNotMember  = errors.New("not an active member of this group")
	errClientGone = errors.New("client disconnected")
)

// inboundFrame is a client request over the socket.
type inboundFrame struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// ackFrame confirms a processed client request.
type ackFrame struct {
	Type    string `json:"type"`
	Op      string `json:"op"`
	GroupID string `json:"group_id"`
}

// errorFrame reports a failed client request in-band, so a client can
// distinguish a rejected subscribe from a transport failure.
type errorFrame struct {
	Type    string `json:"type"`
	Op      string `json:"op"`
	GroupID string `json:"group_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is one authenticated websocket session. Subscriptions are
// per-session: a reconnecting client starts with none.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	userID string

	// subscriptions is guarded by hub.mu.
	subscriptions map[string]struct{}

	logger *slog.Logger
}

// NewClient wraps an upgraded websocket connection and registers it with
// the hub. The caller must start the pumps with Run.
func NewClient(h *Hub, conn *websocket.Conn, userID string, logger *slog.Logger) *Client {
	c := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		done:          make(chan struct{}),
		userID:        userID,
		subscriptions: make(map[string]struct{}),
		logger:        logger,
	}
	h.register(c)
	return c
}

// Run starts the read and write pumps and blocks until the connection
// closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// trySend queues data without blocking. Returns false when the buffer
// is full or the client has been unregistered. The send channel is
// never closed, so a late send after teardown queues into a drained
// buffer instead of panicking; done is the teardown signal.
func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closed reports whether the client has been unregistered.
func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump consumes subscribe/unsubscribe frames until the connection
// drops, then tears the client down.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error",
					slog.String("user_id", c.userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError(frame.Type, "", "INVALID_INPUT", "malformed frame")
			continue
		}

		c.handleFrame(frame)
	}
}

// handleFrame dispatches one client request.
func (c *Client) handleFrame(frame inboundFrame) {
	switch frame.Type {
	case "JoinGroup":
		if frame.GroupID == "" {
			c.sendError(frame.Type, "", "INVALID_INPUT", "group_id is required")
			return
		}
		// The read deadline bounds how long the membership check and
		// everything else in this iteration may take.
		ctx, cancel := contextWithTimeout(writeWait)
		err := c.hub.Subscribe(ctx, c, frame.GroupID)
		cancel()
		if err != nil {
			code := "INTERNAL"
			if errors.Is(err, errNotMember) {
				code = "FORBIDDEN"
			}
			c.sendError(frame.Type, frame.GroupID, code, err.Error())
			return
		}
		c.sendAck(frame.Type, frame.GroupID)

	case "LeaveGroup":
		c.hub.Unsubscribe(c, frame.GroupID)
		c.sendAck(frame.Type, frame.GroupID)

	default:
		c.sendError(frame.Type, frame.GroupID, "INVALID_INPUT", "unknown frame type")
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings. It owns all writes to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// contextWithTimeout bounds hub calls made from the read pump.
func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func (c *Client) sendAck(op, groupID string) {
	data, err := json.Marshal(ackFrame{Type: "ack", Op: op, GroupID: groupID})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(op, groupID, code, message string) {
	data, err := json.Marshal(errorFrame{Type: "error", Op: op, GroupID: groupID, Code: code, Message: message})
	if err != nil {
		return
	}
	c.trySend(data)
}
