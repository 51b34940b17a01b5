package transport

import (
	"context"
	"net/http"
	"sync"
)

// MockDialer is a Dialer for tests.
type MockDialer struct {
	// DialFunc, when set, replaces the default behavior.
	DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

	// Err is returned by Dial when set.
	Err error

	mu     sync.Mutex
	conns  []*MockConn
	urls   []string
	header []http.Header
	dialed chan *MockConn
}

// NewMockDialer creates a mock dialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{dialed: make(chan *MockConn, 16)}
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.header = append(d.header, header.Clone())
	d.mu.Unlock()

	if d.DialFunc != nil {
		return d.DialFunc(ctx, url, header)
	}
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := NewMockConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	select {
	case d.dialed <- c:
	default:
	}
	return c, nil
}

// Dialed returns a channel that receives every connection handed out.
func (d *MockDialer) Dialed() <-chan *MockConn {
	return d.dialed
}

// Conns returns every connection handed out.
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockConn(nil), d.conns...)
}

// URLs returns the dialed URLs.
func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Headers returns the headers of each dial.
func (d *MockDialer) Headers() []http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]http.Header(nil), d.header...)
}

// MockConn is an in-memory Conn. Outbound messages are recorded; inbound
// ones are injected with Deliver.
type MockConn struct {
	inbound chan []byte

	mu          sync.Mutex
	sent        [][]byte
	sentSignal  chan struct{}
	closed      bool
	closeCode   int
	closeReason string
	remoteErr   error
	done        chan struct{}

	// SendErr, when set, is returned by Send.
	SendErr error
}

// NewMockConn creates an open mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		inbound:    make(chan []byte, 64),
		sentSignal: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Send implements Conn.
func (c *MockConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	select {
	case c.sentSignal <- struct{}{}:
	default:
	}
	return nil
}

// Receive implements Conn.
func (c *MockConn) Receive() ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.remoteErr != nil {
			return nil, c.remoteErr
		}
		return nil, ErrClosed
	}
}

// Close implements Conn.
func (c *MockConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
	return nil
}

// Deliver injects an inbound message.
func (c *MockConn) Deliver(msg []byte) {
	c.inbound <- msg
}

// SimulateClose closes the connection as if the remote end did.
func (c *MockConn) SimulateClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.remoteErr = &CloseError{Code: code, Reason: reason}
	close(c.done)
}

// Sent returns a copy of every message sent.
func (c *MockConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentSignal fires (coalesced) after each Send.
func (c *MockConn) SentSignal() <-chan struct{} {
	return c.sentSignal
}

// Closed reports whether the connection is closed and, if closed locally,
// with which code.
func (c *MockConn) Closed() (closed bool, code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// Done is closed when the connection closes.
func (c *MockConn) Done() <-chan struct{} {
	return c.done
}

var (
	_ Dialer = (*MockDialer)(nil)
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*MockConn)(nil)
)
