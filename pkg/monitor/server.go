// Package monitor serves a small HTTP and websocket API for watching and
// steering a live conversation: current state, transcript history, mic
// level and errors, plus endpoints to send text, interrupt, and toggle
// the microphone.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-livevoice/pkg/conversation"
	"github.com/teslashibe/go-livevoice/pkg/hub"
)

// Event types pushed on /ws/events.
const (
	EventStatus     = "status"
	EventTranscript = "transcript"
	EventLevel      = "level"
	EventError      = "error"
)

const (
	DefaultAddr          = ":8080"
	DefaultTranscriptCap = 200
)

// Controller is the part of a session the monitor drives.
// *conversation.Session satisfies it.
type Controller interface {
	ID() string
	State() conversation.State
	StartListening(ctx context.Context) error
	StopListening() error
	Interrupt() error
	SendText(text string) error
}

// Status is the snapshot served on /api/status.
type Status struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Listening bool      `json:"listening"`
	Speaking  bool      `json:"speaking"`
	Level     float64   `json:"level"`
	LastError string    `json:"last_error,omitempty"`
	Clients   int       `json:"clients"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TranscriptEntry is one line of the conversation history.
type TranscriptEntry struct {
	Time   time.Time           `json:"time"`
	Origin conversation.Origin `json:"origin"`
	Text   string              `json:"text"`
}

// ErrorEntry is the payload of an error event.
type ErrorEntry struct {
	Message   string `json:"message"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Server is the monitor HTTP server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
	events *hub.Hub

	ctrlMu sync.RWMutex
	ctrl   Controller

	mu            sync.RWMutex
	status        Status
	transcript    []TranscriptEntry
	transcriptCap int
}

// Option configures a Server.
type Option func(*Server)

// WithTranscriptCap bounds the kept transcript history.
func WithTranscriptCap(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.transcriptCap = n
		}
	}
}

// NewServer creates a monitor listening on addr.
func NewServer(addr string, logger *slog.Logger, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:          addr,
		logger:        logger.With("component", "monitor"),
		events:        hub.New("events", logger),
		transcriptCap: DefaultTranscriptCap,
		status: Status{
			State:     conversation.StateDisconnected.String(),
			UpdatedAt: time.Now().UTC(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "livevoice monitor",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Post("/text", s.handleSendText)
	api.Post("/interrupt", s.handleInterrupt)
	api.Post("/listen", s.handleStartListening)
	api.Delete("/listen", s.handleStopListening)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// SetController attaches the session the API acts on.
func (s *Server) SetController(ctrl Controller) {
	s.ctrlMu.Lock()
	s.ctrl = ctrl
	s.ctrlMu.Unlock()

	s.mu.Lock()
	s.status.SessionID = ctrl.ID()
	s.status.State = ctrl.State().String()
	s.mu.Unlock()
}

func (s *Server) controller() Controller {
	s.ctrlMu.RLock()
	defer s.ctrlMu.RUnlock()
	return s.ctrl
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("monitor listening", "addr", s.addr)
		errc <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("monitor shutdown", "error", err)
		}
		return nil
	}
}

// Status returns the current snapshot.
func (s *Server) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	st.Clients = s.events.ClientCount()
	return st
}

// Transcript returns the kept history, oldest first.
func (s *Server) Transcript() []TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TranscriptEntry(nil), s.transcript...)
}

// ObserveState records a state change and broadcasts it.
func (s *Server) ObserveState(st conversation.State) {
	s.mu.Lock()
	s.status.State = st.String()
	s.status.Listening = st == conversation.StateListening
	s.status.Speaking = st == conversation.StateProcessing
	if st == conversation.StateReady {
		s.status.LastError = ""
	}
	if !st.Active() {
		s.status.Level = 0
	}
	s.status.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.publish(EventStatus, s.Status())
}

// ObserveTranscript appends t to the history and broadcasts it.
func (s *Server) ObserveTranscript(t conversation.Transcript) {
	entry := TranscriptEntry{Time: time.Now().UTC(), Origin: t.Origin, Text: t.Text}

	s.mu.Lock()
	s.transcript = append(s.transcript, entry)
	if over := len(s.transcript) - s.transcriptCap; over > 0 {
		s.transcript = append(s.transcript[:0], s.transcript[over:]...)
	}
	s.mu.Unlock()

	s.publish(EventTranscript, entry)
}

// ObserveLevel records the microphone level and broadcasts it.
func (s *Server) ObserveLevel(level float64) {
	s.mu.Lock()
	s.status.Level = level
	s.mu.Unlock()

	s.publish(EventLevel, level)
}

// ObserveError records err and broadcasts it.
func (s *Server) ObserveError(err error) {
	entry := ErrorEntry{Message: err.Error(), Retryable: conversation.IsRetryable(err)}
	var ce *conversation.ConnectionError
	if errors.As(err, &ce) {
		entry.Kind = string(ce.Kind)
	}

	s.mu.Lock()
	s.status.LastError = entry.Message
	s.mu.Unlock()

	s.publish(EventError, entry)
}

func (s *Server) publish(typ string, v any) {
	if err := s.events.Publish(typ, v); err != nil {
		s.logger.Warn("encode event", "type", typ, "error", err)
	}
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
