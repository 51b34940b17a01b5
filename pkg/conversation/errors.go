package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-livevoice/pkg/capture"
)

// Sentinel errors for the conversation package.
var (
	// ErrInvalidCredential indicates the credential is missing or too short.
	ErrInvalidCredential = errors.New("conversation: invalid credential")

	// ErrInvalidInstruction indicates the system instruction is empty, too
	// long or not valid UTF-8.
	ErrInvalidInstruction = errors.New("conversation: invalid system instruction")

	// ErrMalformedHandshake indicates the setup message is missing a
	// required field. Nothing was sent.
	ErrMalformedHandshake = errors.New("conversation: malformed handshake")

	// ErrMicrophoneDenied indicates microphone permission was refused.
	ErrMicrophoneDenied = capture.ErrMicrophoneDenied

	// ErrMicrophoneUnavailable indicates no microphone could be opened.
	ErrMicrophoneUnavailable = capture.ErrMicrophoneUnavailable

	// ErrHandshakeTimeout indicates the service never acknowledged setup.
	ErrHandshakeTimeout = errors.New("conversation: handshake timed out")

	// ErrConnectionError indicates the connection could not be established
	// or failed for an unclassified reason.
	ErrConnectionError = errors.New("conversation: connection error")

	// ErrModelUnavailable indicates the requested model does not exist or
	// does not support live sessions.
	ErrModelUnavailable = errors.New("conversation: model unavailable")

	// ErrMalformedPayload indicates the service rejected a message as invalid.
	ErrMalformedPayload = errors.New("conversation: malformed payload")

	// ErrPermissionDenied indicates the credential lacks access.
	ErrPermissionDenied = errors.New("conversation: permission denied")

	// ErrQuotaExceeded indicates the usage quota was exceeded.
	ErrQuotaExceeded = errors.New("conversation: quota exceeded")

	// ErrConnectionClosed indicates the connection closed.
	ErrConnectionClosed = errors.New("conversation: connection closed")

	// ErrNotReady indicates the operation needs a completed handshake.
	ErrNotReady = errors.New("conversation: session not ready")

	// ErrAlreadyConnecting indicates a connect attempt is already in flight.
	ErrAlreadyConnecting = errors.New("conversation: connect already in progress")

	// ErrListeningStopped indicates a pending StartListening was overtaken
	// by StopListening or Disconnect.
	ErrListeningStopped = errors.New("conversation: listening stopped")

	// ErrEmptyText indicates SendText was called with blank text.
	ErrEmptyText = errors.New("conversation: empty text")

	// ErrSessionClosed indicates Close was called.
	ErrSessionClosed = errors.New("conversation: session closed")
)

// ErrorKind is the classified category of a connection failure.
type ErrorKind string

const (
	KindHandshakeTimeout ErrorKind = "handshake_timeout"
	KindConnectionError  ErrorKind = "connection_error"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindMalformedPayload ErrorKind = "malformed_payload"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindQuotaExceeded    ErrorKind = "quota_exceeded"
	KindConnectionClosed ErrorKind = "connection_closed"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindHandshakeTimeout:
		return ErrHandshakeTimeout
	case KindModelUnavailable:
		return ErrModelUnavailable
	case KindMalformedPayload:
		return ErrMalformedPayload
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindConnectionClosed:
		return ErrConnectionClosed
	default:
		return ErrConnectionError
	}
}

// ConnectionError is a classified transport or service failure.
type ConnectionError struct {
	// Kind is the failure category.
	Kind ErrorKind

	// Code is the close code or service error code, if any.
	Code int

	// Status is the service status string (e.g. "NOT_FOUND"), if any.
	Status string

	// Reason is the raw close reason or error message.
	Reason string

	// Suggestions lists known-good alternatives, set for
	// KindModelUnavailable.
	Suggestions []string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	if e.Code != 0 {
		fmt.Fprintf(&b, " (%d)", e.Code)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Suggestions) > 0 {
		b.WriteString("; try one of: ")
		b.WriteString(strings.Join(e.Suggestions, ", "))
	}
	return b.String()
}

// Unwrap returns the kind's sentinel and the underlying cause so errors.Is
// matches both.
func (e *ConnectionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind.sentinel(), e.Cause}
	}
	return []error{e.Kind.sentinel()}
}

// IsRetryable reports whether reconnecting could plausibly succeed. The
// session never retries on its own.
func (e *ConnectionError) IsRetryable() bool {
	switch e.Kind {
	case KindConnectionError, KindConnectionClosed, KindHandshakeTimeout:
		return true
	default:
		return false
	}
}

// Error checking helpers.

// IsRetryable returns true if the error can be retried by the host.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}

// IsModelUnavailable returns true if the model was rejected.
func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}

// IsQuotaExceeded returns true if the error is due to quota exhaustion.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsMicrophoneError returns true if capture could not start.
func IsMicrophoneError(err error) bool {
	return errors.Is(err, ErrMicrophoneDenied) || errors.Is(err, ErrMicrophoneUnavailable)
}

// Suggestions returns the suggested alternatives carried by err, if any.
func Suggestions(err error) []string {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Suggestions
	}
	return nil
}

// kindOf returns the classified kind of err, or "" if unclassified.
func kindOf(err error) ErrorKind {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Kind
	}
	return ""
}
