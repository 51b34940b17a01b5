// Package transport provides the message-based connection used to talk to
// the realtime speech service.
//
// A Conn has exactly one writer goroutine, so Send never blocks the caller
// and messages go out in the order they were sent. Receive is meant to be
// driven by a single reader goroutine. Closure by the remote end surfaces as
// a *CloseError carrying the close code and reason.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// WebSocket close codes referenced by callers.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseNoStatus        = 1005
	CloseAbnormal        = 1006
	CloseInvalidPayload  = 1007
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
	CloseInternalError   = 1011
)

var (
	// ErrClosed indicates the connection was closed locally.
	ErrClosed = errors.New("transport: connection closed")

	// ErrSendQueueFull indicates the writer fell too far behind.
	ErrSendQueueFull = errors.New("transport: send queue full")
)

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is an open, message-oriented connection.
type Conn interface {
	// Send queues a message for the writer goroutine. It does not block.
	Send(data []byte) error

	// Receive blocks until the next message arrives or the connection ends.
	Receive() ([]byte, error)

	// Close sends a close frame with code and reason and tears down the
	// connection. Idempotent.
	Close(code int, reason string) error
}

// CloseError reports a closure initiated by the remote end or the network.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport: closed (%d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("transport: closed (%d)", e.Code)
}

// Normal reports whether the close was a clean 1000 closure.
func (e *CloseError) Normal() bool {
	return e.Code == CloseNormal
}

// DialError reports a failed connection attempt. StatusCode is set when the
// server answered the upgrade request with an HTTP error.
type DialError struct {
	StatusCode int
	Cause      error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: dial failed with status %d: %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transport: dial failed: %v", e.Cause)
}

func (e *DialError) Unwrap() error {
	return e.Cause
}
