// Package server exposes the flowgraph editor and workflow store over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"

	"github.com/meikuraledutech/flowgraph"
	"github.com/meikuraledutech/flowgraph/internal/logging"
)

// Config wires the server's collaborators.
type Config struct {
	Workflows flowgraph.WorkflowStore
	Sessions  flowgraph.SessionStore
	Generator flowgraph.Generator
	Auth      Authenticator
	Logger    *slog.Logger
	Observer  flowgraph.Observer
	// Metrics, when set, is served at /metrics.
	Metrics     http.Handler
	BodyLimit   int
	CORSOrigins []string
	// SessionIdle unloads editor sessions unused for this long.
	SessionIdle time.Duration
}

// Server holds the fiber app and the state shared by its handlers.
type Server struct {
	app       *fiber.App
	workflows flowgraph.WorkflowStore
	sessions  *Sessions
	executor  *flowgraph.Executor
	auth      Authenticator
	logger    *slog.Logger

	runs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the server and registers its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 10 * 1024 * 1024
	}

	graphOpts := []flowgraph.Option{flowgraph.WithLogger(logger)}
	if cfg.Observer != nil {
		graphOpts = append(graphOpts, flowgraph.WithObserver(cfg.Observer))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		workflows: cfg.Workflows,
		sessions: NewSessions(cfg.Sessions, func() *flowgraph.Graph {
			return flowgraph.New(graphOpts...)
		}, WithIdleTimeout(cfg.SessionIdle)),
		executor: flowgraph.NewExecutor(cfg.Generator, flowgraph.WithExecutorLogger(logger)),
		auth:     cfg.Auth,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.app = fiber.New(fiber.Config{
		BodyLimit:    bodyLimit,
		ErrorHandler: s.handleError,
	})
	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowCredentials: true,
		}))
	}
	s.app.Use(s.logRequests)

	s.app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}
	s.routes()
	return s
}

// App returns the fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Wait blocks until all in-flight runs have been written back.
func (s *Server) Wait() {
	s.runs.Wait()
}

// Shutdown stops accepting requests, cancels in-flight runs and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := err.Error()

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status = fe.Code
		msg = fe.Message
	case errors.Is(err, flowgraph.ErrSessionNotFound):
		status, msg = fiber.StatusNotFound, "session not found"
	case errors.Is(err, flowgraph.ErrWorkflowNotFound):
		status, msg = fiber.StatusNotFound, "workflow not found"
	case errors.Is(err, flowgraph.ErrNodeNotFound):
		status, msg = fiber.StatusNotFound, "node not found"
	case errors.Is(err, flowgraph.ErrForbidden):
		status, msg = fiber.StatusForbidden, "forbidden"
	case errors.Is(err, flowgraph.ErrRunInProgress), errors.Is(err, flowgraph.ErrDerivedData):
		status = fiber.StatusConflict
	case errors.Is(err, flowgraph.ErrUserMessageRequired), errors.Is(err, flowgraph.ErrInvalidImage):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, flowgraph.ErrUnknownNodeType), errors.Is(err, flowgraph.ErrInvalidData),
		errors.Is(err, flowgraph.ErrNotExecutable), errors.Is(err, flowgraph.ErrNotOutputNode):
		status = fiber.StatusBadRequest
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"elapsed", time.Since(start),
	)
	return err
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}
