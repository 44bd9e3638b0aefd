// Package api exposes the supervisor over HTTP and streams its events over
// a websocket.
package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/randomizedcoder/go-srcbuild/internal/events"
	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
	"github.com/randomizedcoder/go-srcbuild/internal/workspace"
)

// requestIDKey is the fiber local holding the per-request ID.
const requestIDKey = "request_id"

// Config holds the dependencies of the control API.
type Config struct {
	Supervisor  *supervisor.Supervisor
	Workspace   *workspace.Workspace
	Broadcaster *events.Broadcaster
	Logger      *slog.Logger

	// Name is the archive base name used by cleanup. Default: cmus
	Name string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestLogging logs one http_access line per request.
	RequestLogging bool
}

// Server is the fiber application plus the handlers behind it.
type Server struct {
	app         *fiber.App
	sup         *supervisor.Supervisor
	ws          *workspace.Workspace
	broadcaster *events.Broadcaster
	logger      *slog.Logger
	name        string

	// closing ends open event streams on Shutdown.
	closing chan struct{}
}

// New builds the application and registers every route.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workspace == nil {
		cfg.Workspace = workspace.New(nil)
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = events.NewBroadcaster(0)
	}
	if cfg.Name == "" {
		cfg.Name = supervisor.DefaultName
	}

	s := &Server{
		sup:         cfg.Supervisor,
		ws:          cfg.Workspace,
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger,
		name:        cfg.Name,
		closing:     make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get(fiber.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals(requestIDKey, reqID)
		c.Set(fiber.HeaderXRequestID, reqID)
		return c.Next()
	})
	if cfg.RequestLogging {
		app.Use(s.accessLog)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/events", websocket.New(s.streamEvents))

	v1 := app.Group("/api/v1")
	v1.Get("/state", s.getState)
	v1.Post("/download", s.startDownload)
	v1.Post("/decompress", s.decompress)
	v1.Post("/install", s.startInstall)
	v1.Post("/build", s.build)
	v1.Post("/abort", s.abort)
	v1.Post("/copy", s.copyDir)
	v1.Post("/cleanup", s.cleanup)

	s.app = app
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("api_listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown closes open event streams and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.closing:
	default:
		close(s.closing)
	}
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	routePath := ""
	if c.Route() != nil {
		routePath = c.Route().Path
	}
	s.logger.Info("http_access",
		"method", c.Method(),
		"path", c.Path(),
		"route", routePath,
		"status", c.Response().StatusCode(),
		"latency_ms", time.Since(start).Milliseconds(),
		"client_ip", c.IP(),
		"request_id", c.Locals(requestIDKey),
	)
	return err
}

// errorHandler renders every returned error as {"error": ...}.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	attrs := []any{
		"method", c.Method(),
		"path", c.Path(),
		"status", code,
		"error", err.Error(),
		"request_id", c.Locals(requestIDKey),
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request_error", attrs...)
	} else {
		s.logger.Warn("request_failed", attrs...)
	}

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
