// Package web serves the voxd control dashboard: a JSON API over the
// audio pipeline, Prometheus metrics and a websocket feed of pipeline
// events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	accesslog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voxcore/pkg/event"
	"github.com/teslashibe/go-voxcore/pkg/hub"
	"github.com/teslashibe/go-voxcore/pkg/metrics"
	"github.com/teslashibe/go-voxcore/pkg/orchestrator"
)

// Controller is the part of the pipeline the dashboard drives.
// *orchestrator.Orchestrator implements it.
type Controller interface {
	Start() error
	Stop() error
	Trigger() error
	StartRecording() error
	StopRecording() error
	StartPlayback() error
	StopPlayback() error
	ClearPlayback() error
	PlayAudio(pcm []int16) error
	FreeSpace() int
	SetVolume(v uint8) error
	Volume() uint8
	Snapshot() orchestrator.Snapshot
	Stats() orchestrator.Stats
}

var _ Controller = (*orchestrator.Orchestrator)(nil)

// Config holds dashboard configuration.
type Config struct {
	// Addr is the listen address.
	// Default: ":8090"
	Addr string `yaml:"addr" json:"addr"`

	// AccessLog enables per-request logging.
	AccessLog bool `yaml:"access_log" json:"access_log"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8090",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Status is the body of GET /api/status.
type Status struct {
	orchestrator.Snapshot
	Volume    uint8              `json:"volume"`
	FreeSpace int                `json:"free_space"`
	Clients   int                `json:"ws_clients"`
	Stats     orchestrator.Stats `json:"stats"`
}

// Envelope is one websocket message on /ws/events.
type Envelope struct {
	Type   string              `json:"type"` // status, event, state
	Event  *event.Notification `json:"event,omitempty"`
	State  *event.State        `json:"state,omitempty"`
	Status *Status             `json:"status,omitempty"`
}

// Server is the dashboard server.
type Server struct {
	cfg    Config
	ctrl   Controller
	logger *slog.Logger

	app    *fiber.App
	events *hub.Hub

	// OnRecordingStop, if set, runs after a successful
	// POST /api/recording/stop.
	OnRecordingStop func()
}

// NewServer creates the dashboard. m may be nil, in which case /metrics
// is not served.
func NewServer(cfg Config, ctrl Controller, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		logger: logger.With("component", "web"),
	}
	s.events = hub.New("events",
		hub.WithLogger(logger),
		hub.WithGreeting(s.greeting),
	)

	app := fiber.New(fiber.Config{
		AppName:               "voxd",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.AccessLog {
		app.Use(accesslog.New())
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/listen/start", s.action(ctrl.Start))
	api.Post("/listen/stop", s.action(ctrl.Stop))
	api.Post("/trigger", s.action(ctrl.Trigger))
	api.Post("/recording/start", s.action(ctrl.StartRecording))
	api.Post("/recording/stop", s.handleRecordingStop)
	api.Put("/volume", s.handleVolume)
	api.Post("/playback/start", s.action(ctrl.StartPlayback))
	api.Post("/playback/stop", s.action(ctrl.StopPlayback))
	api.Post("/playback/clear", s.action(ctrl.ClearPlayback))
	api.Post("/playback/audio", s.handlePlayAudio)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

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

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.events.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown dashboard: %w", err)
	}
	s.logger.Info("dashboard stopped")
	return nil
}

// PublishEvent forwards a pipeline notification to websocket clients.
func (s *Server) PublishEvent(n event.Notification) {
	s.publish(Envelope{Type: "event", Event: &n})
}

// PublishState forwards a state change to websocket clients.
func (s *Server) PublishState(st event.State) {
	s.publish(Envelope{Type: "state", State: &st})
}

func (s *Server) publish(e Envelope) {
	if err := s.events.BroadcastJSON(e); err != nil {
		s.logger.Warn("failed to encode websocket message", "type", e.Type, "error", err)
	}
}

func (s *Server) status() Status {
	return Status{
		Snapshot:  s.ctrl.Snapshot(),
		Volume:    s.ctrl.Volume(),
		FreeSpace: s.ctrl.FreeSpace(),
		Clients:   s.events.ClientCount(),
		Stats:     s.ctrl.Stats(),
	}
}

func (s *Server) greeting() (hub.Message, bool) {
	st := s.status()
	data, err := json.Marshal(Envelope{Type: "status", Status: &st})
	if err != nil {
		return hub.Message{}, false
	}
	return hub.NewJSONMessage(data), true
}
