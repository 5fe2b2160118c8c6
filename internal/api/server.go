package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/KushalM23/SmartAgriNode/internal/auth"
	"github.com/KushalM23/SmartAgriNode/internal/bridge"
	"github.com/KushalM23/SmartAgriNode/internal/config"
	"github.com/KushalM23/SmartAgriNode/internal/events"
	"github.com/KushalM23/SmartAgriNode/internal/history"
	"github.com/KushalM23/SmartAgriNode/internal/inference"
	"github.com/KushalM23/SmartAgriNode/internal/metrics"
)

// Deps are the collaborators the server routes to. Bridge and Auth are required.
// A nil Stream leaves the event stream route unregistered.
type Deps struct {
	Bridge     BridgePort
	Crop       inference.CropRecommender
	Weed       inference.WeedDetector
	History    history.Store
	Auth       *auth.Middleware
	DeviceKeys *auth.DeviceKeys
	Metrics    *metrics.Metrics
	Stream     *events.Stream
	Audit      bridge.AuditLogger
	Logger     *slog.Logger
	AccessLog  io.Writer
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler

	bridge     BridgePort
	crop       inference.CropRecommender
	weed       inference.WeedDetector
	history    history.Store
	auth       *auth.Middleware
	deviceKeys *auth.DeviceKeys
	metrics    *metrics.Metrics
	stream     *events.Stream
	audit      bridge.AuditLogger
	logger     *slog.Logger
	accessLog  io.Writer

	cfg           config.ServerConfig
	defaultDevice string
	startTime     time.Time
}

// NewServer creates the API server and builds its handler chain.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth middleware is required")
	}

	s := &Server{
		bridge:        deps.Bridge,
		crop:          deps.Crop,
		weed:          deps.Weed,
		history:       deps.History,
		auth:          deps.Auth,
		deviceKeys:    deps.DeviceKeys,
		metrics:       deps.Metrics,
		stream:        deps.Stream,
		audit:         deps.Audit,
		logger:        deps.Logger,
		accessLog:     deps.AccessLog,
		cfg:           cfg.Server,
		defaultDevice: cfg.Bridge.DefaultDevice,
		startTime:     time.Now(),
	}
	if s.history == nil {
		s.history = history.Noop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.accessLog == nil {
		s.accessLog = io.Discard
	}

	s.handler = s.buildHandler()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the full handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Stop. It returns nil after a graceful stop.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Serve serves on l until Stop.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", l.Addr().String())
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server within the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Uptime returns how long the server has existed.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
