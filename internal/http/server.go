// Package http provides the HTTP API for stevedored: health, session
// inspection, and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stevedore/internal/session"
	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

// Server provides HTTP endpoints for stevedored.
type Server struct {
	echo     *echo.Echo
	store    session.Store
	logger   *zap.Logger
	config   *Config
	registry *prometheus.Registry
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server over the session store.
func NewServer(store session.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9911,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:     e,
		store:    store,
		logger:   logger,
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
	s.registerCollectors()
	s.registerRoutes()
	return s, nil
}

// registerCollectors exposes store occupancy as Prometheus gauges.
func (s *Server) registerCollectors() {
	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "stevedore_sessions_active",
			Help: "Number of sessions in the active status",
		},
		func() float64 { return float64(s.store.Stats().ActiveSessions) },
	))
	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "stevedore_sessions_total",
			Help: "Number of live sessions in the store",
		},
		func() float64 { return float64(s.store.Stats().TotalSessions) },
	))
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.GET("/stats", s.handleStats)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SessionSummary is one entry in the GET /api/v1/sessions response.
type SessionSummary struct {
	ID        string            `json:"id"`
	RepoPath  string            `json:"repo_path"`
	Status    session.Status    `json:"status"`
	Progress  workflow.Progress `json:"progress"`
	UpdatedAt time.Time         `json:"updated_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleListSessions lists live sessions, optionally filtered by status.
func (s *Server) handleListSessions(c echo.Context) error {
	var filter session.Filter
	if raw := c.QueryParam("status"); raw != "" {
		status := session.Status(raw)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
		}
		filter.Status = &status
	}

	sessions := s.store.List(c.Request().Context(), filter)
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, SessionSummary{
			ID:        sess.ID,
			RepoPath:  sess.RepoPath,
			Status:    sess.Status,
			Progress:  sess.WorkflowState.Progress(),
			UpdatedAt: sess.UpdatedAt,
			ExpiresAt: sess.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, summaries)
}

// handleGetSession returns the full session record.
func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		s.logger.Error("session lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
	}
	return c.JSON(http.StatusOK, sess)
}

// handleStats returns store occupancy counts.
func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Stats())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
