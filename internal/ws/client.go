package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 32 * 1024

	// Control frame payload limit minus the two byte status code.
	maxCloseReason = 123
)

// ErrTransportClosed is returned by Receive once the connection is gone.
var ErrTransportClosed = errors.New("transport closed")

// Client represents a WebSocket client connection. Outbound messages go
// through a buffered channel drained by writePump.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string

	logger *slog.Logger
}

// NewClient creates a new WebSocket client and starts its write pump.
func NewClient(conn *websocket.Conn, id string, sendBuffer int, logger *slog.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		id:        id,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
		logger:    logger.With("component", "ws_client", "conn_id", id),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump()
	return c
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a message to be sent to the client. A full buffer closes the
// client and counts as a failed send.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: client closed", ErrSendFailed)
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked(websocket.ClosePolicyViolation, "send buffer full")
		return fmt.Errorf("%w: send buffer full", ErrSendFailed)
	}
}

// Receive blocks until the next message from the peer arrives. It must be
// called from a single goroutine.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, message, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			c.logger.Debug("websocket read failed", "error", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return message, nil
}

// Close flushes queued messages, sends a close frame carrying code and
// reason, then closes the connection. Later calls are no-ops.
func (c *Client) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
	return nil
}

func (c *Client) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed once the write pump has exited and the connection is shut.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// writePump pumps queued messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.writeClose()
				return
			}

			// One frame per message so each frame is a complete JSON document.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				c.abandon()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abandon()
				return
			}
		}
	}
}

func (c *Client) writeClose() {
	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, truncateReason(reason))
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("failed to write close frame", "error", err)
	}
}

// truncateReason fits reason into a close frame without splitting a
// UTF-8 sequence.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}

// abandon marks the client closed after a write fault so further sends fail.
func (c *Client) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = websocket.CloseAbnormalClosure
		close(c.send)
	}
}
