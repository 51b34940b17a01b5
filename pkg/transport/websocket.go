package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-livevoice/internal/httpc"
)

const (
	// writeWait is how long to wait for a write to complete.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound messages. Audio chunks are a few
	// hundred KB at most.
	maxMessageSize = 16 << 20

	// sendQueueSize is how many outbound messages may be pending.
	sendQueueSize = 256
)

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the HTTP upgrade. Zero means 45s.
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}

	dialer := websocket.Dialer{
		NetDialContext:   httpc.NetDialer().DialContext,
		Proxy:            httpc.Proxy,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &DialError{StatusCode: resp.StatusCode, Cause: err}
		}
		return nil, &DialError{Cause: err}
	}
	conn.SetReadLimit(maxMessageSize)

	c := &wsConn{
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.writePump()
	return c, nil
}

type wsConn struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

// writePump is the only goroutine writing data frames.
func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, msg)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return nil, &CloseError{Code: CloseAbnormal, Reason: err.Error()}
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
