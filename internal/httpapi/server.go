// Package httpapi exposes the session lifecycle over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scoped/internal/checkpoint"
	"github.com/fyrsmithlabs/scoped/internal/locks"
	"github.com/fyrsmithlabs/scoped/internal/logging"
	"github.com/fyrsmithlabs/scoped/internal/orchestrator"
	"github.com/fyrsmithlabs/scoped/internal/session"
)

// Server provides the HTTP endpoints for scoped.
type Server struct {
	echo   *echo.Echo
	svc    orchestrator.Service
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(svc orchestrator.Service, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("orchestrator service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/run", s.handleRunStage)
	v1.POST("/sessions/:id/resume", s.handleResumeSession)
	v1.POST("/sessions/:id/finalize", s.handleFinalize)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateSessionRequest is the request body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Owner       string `json:"owner"`
	ProjectName string `json:"project_name"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid create request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Owner == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner field is required")
	}
	if req.ProjectName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_name field is required")
	}

	sess, err := s.svc.CreateSession(c.Request().Context(), req.Owner, req.ProjectName)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.svc.GetStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleRunStage(c echo.Context) error {
	outcome, err := s.svc.RunStage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	if !outcome.Validation.Passed {
		// The gate rejected the deliverable: the outcome carries the
		// per-field feedback the caller needs to retry.
		return c.JSON(http.StatusUnprocessableEntity, outcome)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleResumeSession(c echo.Context) error {
	sess, err := s.svc.ResumeSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// FinalizeRequest is the request body for POST /api/v1/sessions/:id/finalize.
type FinalizeRequest struct {
	Override bool `json:"override"`
}

func (s *Server) handleFinalize(c echo.Context) error {
	var req FinalizeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid finalize request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	report, err := s.svc.Finalize(c.Request().Context(), c.Param("id"), req.Override)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// mapError translates service errors into HTTP status codes. Unknown errors
// become 503 so callers retry instead of treating transient storage or
// provider trouble as permanent.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case locks.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, "session is busy, retry shortly")
	case errors.Is(err, orchestrator.ErrWrongState),
		errors.Is(err, orchestrator.ErrNotFinalizable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case checkpoint.IsPersistence(err):
		s.logger.Error(c.Request().Context(), "persistence failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable, retry later")
	default:
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable, retry later")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
