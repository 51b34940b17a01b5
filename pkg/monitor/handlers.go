package monitor

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-livevoice/pkg/conversation"
	"github.com/teslashibe/go-livevoice/pkg/hub"
)

// TextRequest is the body of POST /api/text.
type TextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	entries := s.Transcript()
	if origin := c.Query("origin"); origin != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(string(e.Origin), origin) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []TranscriptEntry{}
	}
	return c.JSON(entries)
}

func (s *Server) handleSendText(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "no session")
	}

	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid body")
	}
	if err := ctrl.SendText(req.Text); err != nil {
		return sessionError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sent": true})
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "no session")
	}
	if err := ctrl.Interrupt(); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(fiber.Map{"interrupted": true})
}

func (s *Server) handleStartListening(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "no session")
	}
	if err := ctrl.StartListening(c.UserContext()); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(fiber.Map{"listening": true})
}

func (s *Server) handleStopListening(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "no session")
	}
	if err := ctrl.StopListening(); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(fiber.Map{"listening": false})
}

// handleEventsWS streams events to one client, starting with a status
// snapshot.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(context.Background(), s.events, c)
	if client == nil {
		return
	}
	if msg, err := hub.NewMessage(EventStatus, s.Status()); err == nil {
		client.Send(msg)
	}
	client.Run()
}

func errorResponse(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// sessionError maps session errors to HTTP status codes.
func sessionError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrEmptyText):
		status = fiber.StatusBadRequest
	case errors.Is(err, conversation.ErrNotReady):
		status = fiber.StatusConflict
	case errors.Is(err, conversation.ErrSessionClosed):
		status = fiber.StatusGone
	case conversation.IsMicrophoneError(err):
		status = fiber.StatusServiceUnavailable
	}
	return errorResponse(c, status, err.Error())
}
