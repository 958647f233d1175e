// Package web serves the live detection page and its JSON and websocket API.
package web

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/detection"
	"github.com/teslashibe/go-livedetect/pkg/hub"
	"github.com/teslashibe/go-livedetect/pkg/stream"
	"github.com/teslashibe/go-livedetect/pkg/thresholds"
)

//go:embed static/index.html
var indexHTML []byte

const (
	// offerTimeout bounds ICE gathering for one offer.
	offerTimeout = 15 * time.Second

	defaultStatusInterval = time.Second
)

// Options configures the page and API.
type Options struct {
	Title      string
	Info       string
	ICEServers []string

	// StatusInterval is how often status is pushed to /ws/status.
	StatusInterval time.Duration
}

// Server is the live detection web server
type Server struct {
	app  *fiber.App
	opts Options

	thresholds *thresholds.Manager
	sessions   *stream.Manager

	// Hub for websocket broadcast (thread-safe!)
	statusHub *hub.Hub
}

// NewServer creates the server and wires threshold changes to the status hub.
func NewServer(opts Options, th *thresholds.Manager, sessions *stream.Manager) *Server {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = defaultStatusInterval
	}

	s := &Server{
		opts:       opts,
		thresholds: th,
		sessions:   sessions,
		statusHub:  hub.New("status"),
	}

	th.OnChange = func(detection.Thresholds) {
		s.broadcastStatus()
	}

	app := fiber.New(fiber.Config{
		AppName:               opts.Title,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	// CORS for local development
	app.Use(cors.New())

	app.Get("/", s.handleIndex)
	app.Get("/healthz", s.handleHealth)

	// API routes
	api := app.Group("/api")
	api.Get("/config", s.handleConfig)
	api.Get("/thresholds", s.handleGetThresholds)
	api.Put("/thresholds", s.handlePutThresholds)
	api.Post("/offer", s.handleOffer)
	api.Get("/sessions", s.handleListSessions)
	api.Delete("/sessions/:id", s.handleDeleteSession)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the status hub and the periodic status push until ctx is done.
// It does not block.
func (s *Server) Start(ctx context.Context) {
	go s.statusHub.Run(ctx)
	go s.statusLoop(ctx)
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() > 0 {
				s.broadcastStatus()
			}
		}
	}
}

// Listen serves HTTP on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	log.Info("web server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) broadcastStatus() {
	if err := s.statusHub.BroadcastJSON(s.status()); err != nil {
		log.Warn("status broadcast failed", "error", err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
