// Package http exposes the popguard engine to the browser extension.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/engine"
	"github.com/fyrsmithlabs/popguard/internal/logging"
)

// Server provides HTTP endpoints for popguard.
type Server struct {
	echo    *echo.Echo
	engine  *engine.Engine
	queue   *QueueChannel
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	meter metric.Meter
}

// WithMeter sets the OTEL meter for request metrics.
func WithMeter(m metric.Meter) Option { return func(o *serverOptions) { o.meter = m } }

// NewServer creates a new HTTP server. queue must be the channel the engine
// presents pending decisions to.
func NewServer(eng *engine.Engine, queue *QueueChannel, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9393,
		}
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		engine:  eng,
		queue:   queue,
		logger:  logger.Named("http"),
		config:  cfg,
		metrics: NewHTTPMetrics(o.meter, logger.Underlying()),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger attaches request and tab IDs to the request context and logs
// the request once the error handler has written the response.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		if tab := c.Param("tab"); tab != "" {
			ctx = logging.WithTabID(ctx, tab)
		}
		if id := c.Param("popup"); id != "" {
			ctx = logging.WithPopupID(ctx, id)
		}
		c.SetRequest(req.WithContext(ctx))

		if err := next(c); err != nil {
			c.Error(err)
		}

		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case c.Response().Status >= http.StatusInternalServerError:
			s.logger.Error(ctx, "http request", fields...)
		case c.Path() == "/health" || c.Path() == "/metrics":
			s.logger.Debug(ctx, "http request", fields...)
		default:
			s.logger.Info(ctx, "http request", fields...)
		}
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/memory-pressure", s.handleMemoryPressure)
	v1.GET("/patterns", s.handlePatterns)
	v1.GET("/history", s.handleHistory)
	v1.GET("/preferences", s.handleGetPreferences)
	v1.PUT("/preferences", s.handlePutPreferences)

	tabs := v1.Group("/tabs/:tab")
	tabs.POST("/detections", s.handleDetection)
	tabs.POST("/decisions/:popup", s.handleDecision)
	tabs.PUT("/visibility", s.handleVisibility)
	tabs.GET("/pending", s.handlePending)
	tabs.DELETE("", s.handleCloseTab)
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
