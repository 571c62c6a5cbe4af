package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
	"github.com/teslashibe/go-voxcore/pkg/hub"
	"github.com/teslashibe/go-voxcore/pkg/orchestrator"
)

// VolumeRequest is the body of PUT /api/volume.
type VolumeRequest struct {
	Volume *int `json:"volume"`
}

// handleStatus returns the pipeline snapshot with volume and buffer room.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// action wraps a parameterless control call.
func (s *Server) action(fn func() error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := fn(); err != nil {
			return s.fail(c, err)
		}
		return c.JSON(s.status())
	}
}

func (s *Server) handleRecordingStop(c *fiber.Ctx) error {
	if err := s.ctrl.StopRecording(); err != nil {
		return s.fail(c, err)
	}
	if s.OnRecordingStop != nil {
		s.OnRecordingStop()
	}
	return c.JSON(s.status())
}

func (s *Server) handleVolume(c *fiber.Ctx) error {
	var req VolumeRequest
	if err := c.BodyParser(&req); err != nil || req.Volume == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be {\"volume\": 0-100}",
		})
	}
	if *req.Volume < 0 || *req.Volume > 255 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "volume out of range",
		})
	}
	if err := s.ctrl.SetVolume(uint8(*req.Volume)); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"volume": s.ctrl.Volume()})
}

// handlePlayAudio queues a raw mono PCM16LE body for playback.
func (s *Server) handlePlayAudio(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 || len(body)%2 != 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be non-empty 16-bit little-endian PCM",
		})
	}

	pcm := audioio.BytesToSamples(body)
	if err := s.ctrl.PlayAudio(pcm); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"queued":     len(pcm),
		"free_space": s.ctrl.FreeSpace(),
	})
}

// handleEventsWS streams pipeline events to one websocket client.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	hub.NewClient(s.events, c).Run()
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidState):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrInvalidArgument):
		status = fiber.StatusBadRequest
	}
	s.logger.Warn("request failed", "path", c.Path(), "status", status, "error", err)
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
