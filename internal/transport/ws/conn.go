package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// ErrSendBufferFull is returned when a client cannot drain its outbound
// queue fast enough.
var ErrSendBufferFull = errors.New("send buffer full")

// Conn wraps a websocket connection with a buffered write pump so that one
// slow client never blocks a broadcast. It satisfies registry.Transport.
type Conn struct {
	userID string
	ws     *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(userID string, ws *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Send enqueues data for the write pump.
//
// Postcondition: Returns ErrSendBufferFull if the client's queue is full, or
// an error if the connection is already closed; never blocks.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down, sending a close frame carrying the
// reason. Safe to call multiple times.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	})
	return nil
}

// writePump drains the send queue and emits protocol pings on the heartbeat
// interval. Runs on its own goroutine per connection.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close("write failure")
	}()

	for {
		select {
		case <-c.closed:
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			// The ping carries its send time; the pong handler derives the
			// round trip from it.
			stamp := time.Now().Format(time.RFC3339Nano)
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte(stamp)); err != nil {
				return
			}
		}
	}
}
